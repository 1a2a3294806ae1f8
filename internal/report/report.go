// Package report renders a loaded VAST chain as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/vast"
)

const maxURILen = 96

// Markdown writes the chain report for the given events.
func Markdown(w io.Writer, loads []loader.LoadEvent, ads []loader.AdEvent) error {
	var b bytes.Buffer

	b.WriteString("# VAST chain report\n\n")
	if root := rootURI(loads); root != "" {
		fmt.Fprintf(&b, "Root: %s\n\n", code(root))
	}

	writeSummary(&b, loads, ads)
	writeTree(&b, loads)
	writeAds(&b, ads)
	writeErrors(&b, loads)

	_, err := w.Write(b.Bytes())
	return err
}

// HTML writes the report as a standalone HTML page.
func HTML(w io.Writer, loads []loader.LoadEvent, ads []loader.AdEvent) error {
	var md bytes.Buffer
	if err := Markdown(&md, loads, ads); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := goldmark.New(goldmark.WithExtensions(extension.GFM)).Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if _, err := io.WriteString(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>VAST chain report</title></head><body>\n"); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body></html>\n")
	return err
}

func writeSummary(b *bytes.Buffer, loads []loader.LoadEvent, ads []loader.AdEvent) {
	var loaded, failed, maxDepth, inline, wrappers, adFailures int
	for _, ev := range loads {
		if ev.Type == loader.EventLoaded {
			loaded++
			maxDepth = max(maxDepth, ev.Document.Depth())
		} else {
			failed++
		}
	}
	for _, ev := range ads {
		switch {
		case ev.Type == loader.EventAdLoadFailed:
			adFailures++
		case isWrapper(ev.Ad):
			wrappers++
		default:
			inline++
		}
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Documents loaded | %d |\n", loaded)
	fmt.Fprintf(b, "| Documents failed | %d |\n", failed)
	fmt.Fprintf(b, "| Deepest document | %d |\n", maxDepth)
	fmt.Fprintf(b, "| InLine ads | %d |\n", inline)
	fmt.Fprintf(b, "| Wrapper ads | %d |\n", wrappers)
	fmt.Fprintf(b, "| Ad failures | %d |\n\n", adFailures)
}

// writeTree renders the preorder load events as a nested list.
func writeTree(b *bytes.Buffer, loads []loader.LoadEvent) {
	if len(loads) == 0 {
		return
	}
	b.WriteString("## Wrapper tree\n\n")
	for _, ev := range loads {
		depth := 1
		if ev.Type == loader.EventLoaded {
			depth = ev.Document.Depth()
		} else if ev.Wrapper != nil && ev.Wrapper.Document() != nil {
			depth = ev.Wrapper.Document().Depth() + 1
		}
		b.WriteString(strings.Repeat("  ", depth-1))

		if ev.Type == loader.EventLoaded {
			doc := ev.Document
			fmt.Fprintf(b, "- %s VAST %s, %d ads", code(doc.URI), orDash(doc.Version), len(doc.Ads))
		} else {
			fmt.Fprintf(b, "- **%d** %s %s", ev.Err.Code, escape(ev.Err.Code.Description()), code(ev.Err.URI))
		}
		if ev.Wrapper != nil {
			fmt.Fprintf(b, " via %s", code(ev.Wrapper.ID()))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeAds(b *bytes.Buffer, ads []loader.AdEvent) {
	if len(ads) == 0 {
		return
	}
	b.WriteString("## Ads\n\n")
	b.WriteString("| # | Kind | ID | Ad system | Title / target | Depth |\n|---|---|---|---|---|---|\n")
	for i, ev := range ads {
		if ev.Type == loader.EventAdLoadFailed {
			via := "-"
			if ev.Wrapper != nil {
				via = cell(ev.Wrapper.ID())
			}
			fmt.Fprintf(b, "| %d | failed | %s | | %d %s | |\n", i+1, via, ev.Err.Code, cell(ev.Err.Code.Description()))
			continue
		}

		depth := 0
		if doc := ev.Ad.Document(); doc != nil {
			depth = doc.Depth()
		}
		switch ad := ev.Ad.(type) {
		case *vast.Wrapper:
			fmt.Fprintf(b, "| %d | wrapper | %s | %s | %s | %d |\n", i+1, cell(ad.ID()), cell(ad.AdSystem()), code(ad.VASTAdTagURI), depth)
		case *vast.InLine:
			fmt.Fprintf(b, "| %d | inline | %s | %s | %s | %d |\n", i+1, cell(ad.ID()), cell(ad.AdSystem()), cell(ad.Title), depth)
		}
	}
	b.WriteString("\n")
}

func writeErrors(b *bytes.Buffer, loads []loader.LoadEvent) {
	var failed []loader.LoadEvent
	for _, ev := range loads {
		if ev.Type == loader.EventFailed {
			failed = append(failed, ev)
		}
	}
	if len(failed) == 0 {
		return
	}
	b.WriteString("## Errors\n\n")
	for _, ev := range failed {
		fmt.Fprintf(b, "- %s\n", escape(ev.Err.Error()))
	}
	b.WriteString("\n")
}

func rootURI(loads []loader.LoadEvent) string {
	if len(loads) == 0 {
		return ""
	}
	if ev := loads[0]; ev.Type == loader.EventLoaded {
		return ev.Document.URI
	} else if ev.Err != nil {
		return ev.Err.URI
	}
	return ""
}

func isWrapper(ad vast.Ad) bool {
	_, ok := ad.(*vast.Wrapper)
	return ok
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func code(s string) string {
	if len(s) > maxURILen {
		s = s[:maxURILen] + "..."
	}
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

var escaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`,
)

func escape(s string) string {
	return escaper.Replace(s)
}

func cell(s string) string {
	return strings.ReplaceAll(escape(strings.TrimSpace(s)), "|", `\|`)
}
