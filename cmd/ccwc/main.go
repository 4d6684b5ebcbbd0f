package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/ccwc/internal/config"
	"github.com/ethpandaops/ccwc/internal/counter"
	"github.com/ethpandaops/ccwc/internal/export"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
	"github.com/ethpandaops/ccwc/internal/server"
	"github.com/ethpandaops/ccwc/internal/version"
	"github.com/ethpandaops/ccwc/internal/wc"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// cliFlags holds the parsed command line.
type cliFlags struct {
	cfgFile  string
	logLevel string

	bytes bool
	lines bool
	words bool
	chars bool

	encoding      string
	bufferSize    int
	decompress    string
	jobs          int
	total         string
	humanReadable bool

	addr string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		// Per-input failures have already been reported.
		if !errors.Is(err, wc.ErrInputFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "ccwc [flags] [FILE...]",
		Short: "Count lines, words, characters and bytes",
		Long: `ccwc prints newline, word, character and byte counts for each FILE,
and a total line if more than one FILE is given. With no FILE, or when
FILE is -, standard input is read. Without -c, -l, -w or -m the line,
word and byte counts are printed.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, flags, args)
		},
	}

	cmd.PersistentFlags().StringVar(
		&flags.cfgFile, "config", "",
		"path to config file",
	)
	cmd.PersistentFlags().StringVar(
		&flags.logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.Flags().BoolVarP(&flags.bytes, "bytes", "c", false, "print the byte counts")
	cmd.Flags().BoolVarP(&flags.lines, "lines", "l", false, "print the newline counts")
	cmd.Flags().BoolVarP(&flags.words, "words", "w", false, "print the word counts")
	cmd.Flags().BoolVarP(&flags.chars, "chars", "m", false, "print the character counts")
	cmd.Flags().StringVar(
		&flags.encoding, "encoding", "",
		"text encoding for words and characters (default from locale)",
	)
	cmd.Flags().IntVar(
		&flags.bufferSize, "buffer-size", counter.DefaultBufferSize,
		"read chunk size in bytes",
	)
	cmd.Flags().StringVar(
		&flags.decompress, "decompress", "none",
		"decompress inputs (none, auto, gzip, zlib, zstd, snappy)",
	)
	cmd.Flags().IntVarP(
		&flags.jobs, "jobs", "j", 0,
		"number of inputs counted concurrently (default GOMAXPROCS)",
	)
	cmd.Flags().StringVar(
		&flags.total, "total", "auto",
		"when to print a line with total counts (auto, always, only, never)",
	)
	cmd.Flags().BoolVar(
		&flags.humanReadable, "human-readable", false,
		"print byte counts with IEC units",
	)

	cmd.AddCommand(serveCmd(flags), versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullWithPlatform())
		},
	}
}

func serveCmd(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve counts over HTTP",
		Long: `serve starts an HTTP service that counts request bodies posted to
/v1/count and exposes Prometheus metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.Flags().StringVar(
		&flags.addr, "addr", "",
		"override the listen address",
	)

	return cmd
}

// loadConfig loads the config file and applies the command-line
// overrides for flags that were set explicitly.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file.
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	changed := cmd.Flags().Changed

	if flags.bytes || flags.lines || flags.words || flags.chars {
		cfg.Metrics = nil

		for _, m := range []struct {
			set  bool
			name string
		}{
			{flags.lines, "lines"},
			{flags.words, "words"},
			{flags.chars, "chars"},
			{flags.bytes, "bytes"},
		} {
			if m.set {
				cfg.Metrics = append(cfg.Metrics, m.name)
			}
		}
	}

	if changed("encoding") {
		cfg.Encoding = flags.encoding
	}

	if changed("buffer-size") {
		cfg.BufferSize = flags.bufferSize
	}

	if changed("decompress") {
		cfg.Decompress = flags.decompress
	}

	if changed("jobs") {
		cfg.Jobs = flags.jobs
	}

	if changed("total") {
		cfg.Total = flags.total
	}

	if changed("human-readable") {
		cfg.HumanReadable = flags.humanReadable
	}

	if changed("addr") {
		cfg.Server.Addr = flags.addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}

	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, nil
}

func runCount(cmd *cobra.Command, flags *cliFlags, args []string) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	metricSet, err := cfg.MetricSet()
	if err != nil {
		return err
	}

	enc, err := cfg.TextEncoding()
	if err != nil {
		return err
	}

	total, err := cfg.TotalMode()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	metrics := export.NewMetrics(log)

	push, err := startPush(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer stopPush(log, push)

	runner := wc.New(log, wc.Options{
		Metrics:    metricSet,
		Encoding:   enc,
		BufferSize: cfg.BufferSize,
		Decompress: cfg.Decompress,
		Jobs:       cfg.Jobs,
		Total:      total,
		HumanBytes: cfg.HumanReadable,
		Push:       push,
	}, metrics)

	runErr := runner.Run(ctx, args, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	return runErr
}

func runServe(cmd *cobra.Command, flags *cliFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	metricSet, err := cfg.MetricSet()
	if err != nil {
		return err
	}

	enc, err := cfg.TextEncoding()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	push, err := startPush(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer stopPush(log, push)

	srv := server.New(log, cfg.Server, server.Options{
		Metrics:    metricSet,
		Encoding:   enc,
		BufferSize: cfg.BufferSize,
		Push:       push,
	}, export.NewMetrics(log))

	log.WithField("version", version.Full()).Info("Starting ccwc server")

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down ccwc server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")

		return fmt.Errorf("stopping server: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

// startPush creates and starts the record publisher. It returns nil when
// pushing is disabled.
func startPush(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *config.Config,
) (*httpexport.Publisher, error) {
	push, err := httpexport.NewPublisher(log, cfg.Push)
	if err != nil {
		return nil, fmt.Errorf("creating push publisher: %w", err)
	}

	push.Start(ctx)

	return push, nil
}

// stopPush flushes queued records.
func stopPush(log logrus.FieldLogger, push *httpexport.Publisher) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := push.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Failed to flush pushed records")
	}
}
