// Package command implements the cached-path CLI's single root command.
package command

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	cachedpath "github.com/epwalsh/cached-path-go"
	"github.com/epwalsh/cached-path-go/internal/logginglevel"
	"github.com/epwalsh/cached-path-go/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	debug             bool
	dir               string
	connectTimeout    time.Duration
	maxRetries        uint
	maxBackoff        time.Duration
	freshnessLifetime time.Duration
	offline           bool
	extract           bool
	subdir            string
)

// NewRootCommand builds the CLI's sole command. There's only one
// operation (resolve an identifier to a local path), so root/run aren't
// split into separate subcommands.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cached-path IDENTIFIER...",
		Short:         "Resolve local paths or cache remote URLs to a stable local path",
		Version:       version.FullVersion(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if debug {
				logginglevel.Level.SetLevel(zapcore.DebugLevel)
			}

			return nil
		},
		RunE: run,
	}

	cmd.Flags().StringVar(&dir, "dir", "", "cache root directory (default: OS cache dir)")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 0, "HTTP connect-phase timeout, e.g. 30s")
	cmd.Flags().UintVar(&maxRetries, "max-retries", 3, "maximum retries for transient HTTP failures")
	cmd.Flags().DurationVar(&maxBackoff, "max-backoff", 5*time.Second, "upper bound on retry backoff delay")
	cmd.Flags().DurationVar(&freshnessLifetime, "freshness-lifetime", 0, "how long a cached entry is trusted without revalidation, e.g. 1h")
	cmd.Flags().BoolVar(&offline, "offline", false, "never contact the network; serve only from cache")
	cmd.Flags().BoolVar(&extract, "extract", false, "treat each resource as an archive and extract it")
	cmd.Flags().StringVar(&subdir, "subdir", "", "cache subdirectory relative to the root")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	opts := []cachedpath.Option{
		cachedpath.WithLogger(logger),
		cachedpath.WithMaxRetries(uint64(maxRetries)),
		cachedpath.WithMaxBackoff(maxBackoff),
		cachedpath.WithOffline(offline),
		cachedpath.WithProgressSink(printProgress),
	}

	if dir != "" {
		opts = append(opts, cachedpath.WithDir(dir))
	}
	if connectTimeout > 0 {
		opts = append(opts, cachedpath.WithConnectTimeout(connectTimeout))
	}
	if freshnessLifetime > 0 {
		opts = append(opts, cachedpath.WithFreshnessLifetime(freshnessLifetime))
	}

	cache, err := cachedpath.New(opts...)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		os.Exit(1)
	}

	pathOpts := cachedpath.PathOptions{
		Subdir:         subdir,
		ExtractArchive: extract,
	}

	var failed bool

	for _, identifier := range args {
		path, err := cache.CachedPathWithOptions(identifier, pathOpts)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", identifier, err)
			failed = true

			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), path)
	}

	if failed {
		os.Exit(1)
	}

	return nil
}

// newLogger builds a console zap logger honoring logginglevel.Level;
// --debug raises the shared AtomicLevel rather than rebuilding the
// logger.
func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(os.Stderr),
		logginglevel.Level,
	)

	return zap.New(core).Sugar()
}

func printProgress(total, soFar int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s / %s", humanize.Bytes(uint64(soFar)), humanize.Bytes(uint64(total)))
	} else {
		fmt.Fprintf(os.Stderr, "\r%s downloaded", humanize.Bytes(uint64(soFar)))
	}
}
