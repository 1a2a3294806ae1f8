package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/report"
	"github.com/dgallion1/vastchain/internal/stream"
	"github.com/dgallion1/vastchain/internal/vast"
)

var errRootFailed = errors.New("root document failed to load")

func loadCmd(opts *options) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "load <uri>",
		Short: "Print the load event of every document in the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			rootFailed := false
			err = e.loader.Load(e.cfg)(cmd.Context(), func(ev loader.LoadEvent) error {
				if ev.Type == loader.EventFailed && ev.Wrapper == nil {
					rootFailed = true
				}
				return printLoad(out, ev, format)
			})
			if err != nil {
				return err
			}
			if rootFailed {
				return errRootFailed
			}
			return nil
		},
	}

	c.Flags().StringVar(&format, "format", "json", "Output format: json|pretty")
	return c
}

func adsCmd(opts *options) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "ads <uri>",
		Short: "Print the flattened ads of the chain in playback order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			rootFailed := false
			err = e.loader.LoadAds(e.cfg)(cmd.Context(), func(ev loader.AdEvent) error {
				if ev.Type == loader.EventAdLoadFailed && ev.Wrapper == nil {
					rootFailed = true
				}
				return printAd(out, ev, format)
			})
			if err != nil {
				return err
			}
			if rootFailed {
				return errRootFailed
			}
			return nil
		},
	}

	c.Flags().StringVar(&format, "format", "json", "Output format: json|pretty")
	return c
}

func reportCmd(opts *options) *cobra.Command {
	var html bool

	c := &cobra.Command{
		Use:   "report <uri>",
		Short: "Load the chain and print a Markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.close()

			// Ads are derived from the collected load events so each
			// document is fetched once.
			loads, err := stream.Collect(cmd.Context(), e.loader.Load(e.cfg))
			if err != nil {
				return err
			}
			ads, err := stream.Collect(cmd.Context(), loader.Ads(stream.FromSlice(loads)))
			if err != nil {
				return err
			}

			if html {
				return report.HTML(cmd.OutOrStdout(), loads, ads)
			}
			return report.Markdown(cmd.OutOrStdout(), loads, ads)
		},
	}

	c.Flags().BoolVar(&html, "html", false, "Render the report as HTML")
	return c
}

func printLoad(w io.Writer, ev loader.LoadEvent, format string) error {
	switch format {
	case "json", "":
		return json.NewEncoder(w).Encode(ev)
	case "pretty":
		if ev.Type == loader.EventLoaded {
			doc := ev.Document
			_, err := fmt.Fprintf(w, "%sOK   %s (%d ads)\n", indent(doc.Depth()), doc.URI, len(doc.Ads))
			return err
		}
		depth := 1
		if ev.Wrapper != nil && ev.Wrapper.Document() != nil {
			depth = ev.Wrapper.Document().Depth() + 1
		}
		_, err := fmt.Fprintf(w, "%sFAIL %s: %s\n", indent(depth), ev.Err.URI, describe(ev.Err))
		return err
	default:
		return fmt.Errorf("unsupported format %q (expected json|pretty)", format)
	}
}

func printAd(w io.Writer, ev loader.AdEvent, format string) error {
	switch format {
	case "json", "":
		return json.NewEncoder(w).Encode(ev)
	case "pretty":
		if ev.Type == loader.EventAdLoadFailed {
			_, err := fmt.Fprintf(w, "- FAIL    %s\n", describe(ev.Err))
			return err
		}
		switch ad := ev.Ad.(type) {
		case *vast.InLine:
			_, err := fmt.Fprintf(w, "- inline  %s %q (%s)\n", ad.ID(), ad.Title, ad.AdSystem())
			return err
		case *vast.Wrapper:
			_, err := fmt.Fprintf(w, "- wrapper %s -> %s\n", ad.ID(), ad.VASTAdTagURI)
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (expected json|pretty)", format)
	}
}

func describe(err *vast.LoaderError) string {
	s := fmt.Sprintf("%d %s", err.Code, err.Code.Description())
	if err.Cause != nil {
		s += " (" + err.Cause.Error() + ")"
	}
	return s
}

func indent(depth int) string {
	if depth < 1 {
		depth = 1
	}
	return fmt.Sprintf("%*s", (depth-1)*2, "")
}
