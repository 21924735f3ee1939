// Package main is the entry point for the baton event daemon.
//
// The daemon wires the dispatcher to its sources: a manifest of events
// and Lua subscriptions, filesystem watches, and an NDJSON trigger feed
// on stdin. Delivered events can be appended to an NDJSON log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/baton"
	"github.com/dshills/baton/fswatch"
	"github.com/dshills/baton/manifest"
	"github.com/dshills/baton/script"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type options struct {
	manifestPath string
	watchPaths   multiFlag
	watchEvent   string
	feed         bool
	recordPath   string
	logLevel     string
	quiet        bool
}

func run() int {
	opts := parseFlags()

	logger, err := setupLogger(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	d := baton.New(
		baton.WithLogger(logger),
		baton.WithErrorHandler(func(event string, err error) {
			logger.Error().Str("event", event).Err(err).Msg("callback failed")
		}),
		baton.WithPanicHandler(func(event string, v any, stack []byte) {
			logger.Error().Str("event", event).Interface("panic", v).Msg("callback panicked")
		}),
	)

	eng := script.NewEngine()
	defer eng.Close(context.Background())
	if err := eng.Install(ctx, d); err != nil {
		logger.Error().Err(err).Msg("script engine setup failed")
		return 1
	}

	if opts.manifestPath != "" {
		m, err := manifest.Load(opts.manifestPath)
		if err != nil {
			logger.Error().Err(err).Msg("manifest load failed")
			return 1
		}
		if m == nil {
			logger.Error().Str("path", opts.manifestPath).Msg("manifest not found")
			return 1
		}
		if err := manifest.Apply(ctx, m, d, eng); err != nil {
			logger.Error().Err(err).Msg("manifest apply failed")
			return 1
		}
		logger.Info().
			Str("path", opts.manifestPath).
			Int("events", len(m.Events)).
			Int("subscriptions", len(m.Subscriptions)).
			Msg("manifest applied")
	}

	var src *fswatch.Source
	if len(opts.watchPaths) > 0 {
		src, err = fswatch.New(d, opts.watchEvent, fswatch.WithLogger(logger))
		if err != nil {
			logger.Error().Err(err).Msg("watch setup failed")
			return 1
		}
		defer src.Close()

		// The manifest may have declared the watch event already.
		if err := src.RegisterEvent(); err != nil && !errors.Is(err, baton.ErrDuplicateEvent) {
			logger.Error().Err(err).Msg("watch event registration failed")
			return 1
		}
		for _, p := range opts.watchPaths {
			if err := src.AddRecursive(p); err != nil {
				logger.Error().Err(err).Str("path", p).Msg("watch failed")
				return 1
			}
		}
	}

	if opts.recordPath != "" {
		rec, err := newRecorder(opts.recordPath)
		if err != nil {
			logger.Error().Err(err).Msg("recorder setup failed")
			return 1
		}
		defer rec.Close()
		if err := rec.subscribeAll(d); err != nil {
			logger.Error().Err(err).Msg("recorder subscription failed")
			return 1
		}
	}

	if err := d.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("dispatcher start failed")
		return 1
	}
	if src != nil {
		if err := src.Start(); err != nil {
			logger.Error().Err(err).Msg("watch start failed")
			return 1
		}
	}
	logger.Info().Strs("events", d.Events()).Msg("dispatching")

	feedDone := make(chan struct{})
	if opts.feed {
		go func() {
			defer close(feedDone)
			feedLoop(os.Stdin, d, logger)
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	// With a finite stdin feed and nothing else to watch, drain and exit
	// at EOF instead of waiting for a signal.
	if opts.feed && len(opts.watchPaths) == 0 {
		select {
		case <-signals:
		case <-feedDone:
		}
	} else {
		<-signals
	}
	logger.Info().Msg("shutting down")

	if src != nil {
		_ = src.Close()
	}
	waitIdle(d, 10*time.Second)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher stop incomplete")
		return 1
	}

	stats := d.Stats()
	logger.Info().
		Uint64("triggered", stats.Triggered).
		Uint64("delivered", stats.Delivered).
		Uint64("dropped", stats.Dropped).
		Uint64("failed", stats.Failed).
		Msg("done")
	return 0
}

// waitIdle blocks until every queued delivery has been consumed or the
// timeout passes.
func waitIdle(d *baton.Dispatcher, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := d.Stats()
		if s.Triggered == s.Delivered+s.Dropped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// setupLogger builds the console logger from the flags.
func setupLogger(opts options) (zerolog.Logger, error) {
	if opts.quiet {
		return zerolog.Nop(), nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.logLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", opts.logLevel)
	}
	w := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level), nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.manifestPath, "manifest", "", "Path to a TOML or YAML event manifest")
	flag.Var(&opts.watchPaths, "watch", "Path to watch for filesystem changes (repeatable)")
	flag.StringVar(&opts.watchEvent, "event", "file.changed", "Event name triggered by filesystem changes")
	flag.BoolVar(&opts.feed, "feed", false, "Read NDJSON trigger lines from stdin")
	flag.StringVar(&opts.recordPath, "record", "", "Append delivered events to this file as NDJSON")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.quiet, "quiet", false, "Disable logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "baton - event dispatch daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: baton [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  baton -manifest events.toml -feed          Trigger from stdin\n")
		fmt.Fprintf(os.Stderr, "  baton -manifest events.toml -watch ./data  Trigger on file changes\n")
		fmt.Fprintf(os.Stderr, "  baton -feed -record delivered.ndjson       Log every delivery\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("baton %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
