// Package cli implements the vastchain command line.
package cli

import (
	"context"
	"log/slog"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/vastchain/internal/config"
	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/loader"
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	debug       bool
	maxDepth    int
	timeout     time.Duration
	retryCount  int
	credentials string
	noSinglePod bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "vastchain",
		Short:        "Resolve VAST wrapper chains",
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "YAML profile overlaying the environment configuration")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging on stderr")
	f.IntVar(&opts.maxDepth, "max-depth", loader.DefaultMaxDepth, "maximum chain depth, root included (0 disables the limit)")
	f.DurationVar(&opts.timeout, "timeout", loader.DefaultTimeout, "timeout per fetch attempt")
	f.IntVar(&opts.retryCount, "retry-count", 0, "extra attempts per credentials mode")
	f.StringVar(&opts.credentials, "credentials", "omit", "comma-separated credentials modes to try in order (omit, include, same-origin)")
	f.BoolVar(&opts.noSinglePod, "no-single-ad-pods", false, "treat a lone ad with a sequence as a standalone ad")

	cmd.AddCommand(loadCmd(opts), adsCmd(opts), reportCmd(opts))
	return cmd
}

// env is what a subcommand needs to run one traversal.
type env struct {
	loader *loader.Loader
	cfg    loader.LoadConfig
	log    *slog.Logger
	close  func()
}

// setup resolves configuration with flags taking precedence over the
// profile and the environment.
func (o *options) setup(cmd *cobra.Command, uri string) (*env, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("max-depth") {
		cfg.MaxDepth = o.maxDepth
	}
	if flags.Changed("timeout") {
		cfg.FetchTimeout = o.timeout
	}
	if flags.Changed("retry-count") {
		cfg.RetryCount = o.retryCount
	}
	if flags.Changed("credentials") {
		cfg.Credentials = o.credentials
	}
	if flags.Changed("no-single-ad-pods") {
		cfg.NoSingleAdPods = o.noSinglePod
	}
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	httpOpts := cfg.HTTPOptions()
	httpOpts.Jar, _ = cookiejar.New(nil)
	httpFetcher, err := fetch.NewHTTPFetcher(httpOpts)
	if err != nil {
		return nil, err
	}

	return &env{
		loader: loader.New(&fetch.DataURIFetcher{Next: httpFetcher}, nil, log),
		cfg:    cfg.LoadConfig(uri),
		log:    log,
		close:  httpFetcher.Close,
	}, nil
}
