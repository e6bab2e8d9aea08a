package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wtd-bridge/bridge"
	"github.com/wippyai/wtd-bridge/config"
	"github.com/wippyai/wtd-bridge/engine"
	"github.com/wippyai/wtd-bridge/metrics"
	"github.com/wippyai/wtd-bridge/source"
)

type options struct {
	cfg         config.Config
	interactive bool
}

// parseOptions layers command-line flags over the environment configuration.
func parseOptions(fs *flag.FlagSet, args []string) (options, error) {
	cfg, err := config.Load()
	if err != nil {
		return options{}, err
	}

	opts := options{cfg: cfg}
	anchors := strings.Join(cfg.Anchors, ",")

	fs.StringVar(&opts.cfg.EngineLocation, "engine", cfg.EngineLocation, "Engine binary path or URL")
	fs.StringVar(&opts.cfg.StartExport, "start", cfg.StartExport, "Exported start routine")
	fs.StringVar(&anchors, "anchors", anchors, "Comma-separated host anchors (e.g. canvas)")
	fs.StringVar(&opts.cfg.Listen, "listen", cfg.Listen, "Status server address (empty disables)")
	fs.StringVar(&opts.cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.cfg.Anchors = strings.Split(anchors, ",")
	if err := opts.cfg.Validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	interactive := opts.interactive || term.IsTerminal(int(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interactive {
		err = runInteractive(ctx, opts.cfg)
	} else {
		err = runHeadless(ctx, opts.cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// host wires the bridge to a wazero engine loaded from the configured location.
type host struct {
	cfg     config.Config
	log     *zap.Logger
	engine  *engine.WazeroEngine
	bridge  *bridge.Bridge
	metrics *metrics.Collector
}

func newHost(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...bridge.Option) (*host, error) {
	engine.SetLogger(log)

	src, err := source.Parse(cfg.EngineLocation, source.Options{
		MaxBytes: cfg.MaxBinaryBytes,
		Timeout:  cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewWazeroEngine(ctx, src, &engine.Config{
		ModuleName:       cfg.ModuleName,
		StartExport:      cfg.StartExport,
		Anchors:          cfg.AnchorSet(),
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	h := &host{
		cfg:     cfg,
		log:     log,
		engine:  eng,
		metrics: metrics.NewCollector(""),
	}
	opts = append([]bridge.Option{
		bridge.WithLogger(log),
		bridge.WithObserver(h.metrics),
		bridge.WithLoadTimeout(cfg.LoadTimeout),
	}, opts...)
	h.bridge = bridge.New(eng, opts...)
	return h, nil
}

// Close tears the bridge down and releases the runtime.
func (h *host) Close(ctx context.Context) error {
	err := h.bridge.OnDestroy(ctx)
	if cerr := h.engine.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

func runHeadless(ctx context.Context, cfg config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	h, err := newHost(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())

	if cfg.Listen != "" {
		stopServer := serve(ctx, cfg.Listen, newRouter(h), log)
		defer stopServer()
	}

	return h.run(ctx)
}

// run mounts the bridge and blocks until ctx is done or the engine fails
// without a status server to report it.
func (h *host) run(ctx context.Context) error {
	log := h.log.With(zap.String("engine", h.engine.Location()))
	log.Info("mounting engine")
	h.bridge.OnMount(ctx)

	state, err := h.bridge.Wait(ctx)
	switch state {
	case bridge.StateRunning:
		log.Info("engine running, waiting for shutdown")
		<-ctx.Done()
		log.Info("shutting down")
		return nil

	case bridge.StateFailed:
		if h.cfg.Listen == "" {
			return err
		}
		log.Warn("engine failed, status server stays up", zap.Error(err))
		<-ctx.Done()
		return err

	default:
		log.Info("interrupted before engine settled", zap.Stringer("state", state))
		return nil
	}
}
