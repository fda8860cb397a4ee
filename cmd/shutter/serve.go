package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/shutter/pkg/browser"
	"github.com/entrhq/shutter/pkg/bus"
	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/render"
	"github.com/entrhq/shutter/pkg/screenshot"
	"github.com/entrhq/shutter/pkg/server"
	"github.com/entrhq/shutter/pkg/telemetry"
)

type serveCmd struct {
	gs *globalState

	addr     string
	natsURL  string
	htmlRoot string
	watch    bool
	trace    bool
	install  bool
}

func newServeCmd(gs *globalState) *cobra.Command {
	c := &serveCmd{gs: gs}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP render service",
		Long: `Launch the browser session and serve render requests over HTTP.

Configuration changes made through PUT /v1/config, "shutter config set" or by
editing the config file are applied to the running session.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.addr, "addr", ":8080", "listen address")
	flags.StringVar(&c.natsURL, "nats-url", "", "carry config events over NATS instead of in process")
	flags.StringVar(&c.htmlRoot, "html-root", "", "directory .html sources may be read from; none when empty")
	flags.BoolVar(&c.watch, "watch", true, "apply edits to the config file while running")
	flags.BoolVar(&c.trace, "trace", false, "export render spans to stderr")
	flags.BoolVar(&c.install, "install", true, "install the configured browser before launching")
	return cmd
}

func (c *serveCmd) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	gs := c.gs

	if c.trace {
		tp, err := telemetry.NewTracerProvider("shutter", version, gs.stderr)
		if err != nil {
			return err
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	events, err := c.openBus()
	if err != nil {
		return err
	}
	defer func() { _ = events.Close() }()

	store, err := gs.store(events)
	if err != nil {
		return err
	}
	opts, err := gs.launchOptions(store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager, err := gs.startBrowser(opts, c.install, reg)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	if err := manager.Subscribe(ctx, events); err != nil {
		return err
	}

	orchestrator := screenshot.New(manager,
		screenshot.WithFs(server.SourceFs(gs.fs, c.htmlRoot)),
		screenshot.WithLogger(gs.logger.With("screenshot")),
		screenshot.WithMetrics(screenshot.NewMetrics(reg)),
	)
	renderers := render.NewRegistry()
	if err := renderers.Register(server.DefaultRenderer, render.NewAdapter(server.DefaultRenderer, orchestrator, gs.logger.With("render"))); err != nil {
		return err
	}

	fmt.Fprintf(gs.stdout, "shutter %s serving %s with %s\n", version, valueColor.Sprint(c.addr), valueColor.Sprint(opts.Kind()))

	g, ctx := errgroup.WithContext(ctx)
	if c.watch {
		g.Go(func() error {
			if err := config.NewWatcher(store, gs.logger.With("watcher")).Run(ctx); err != nil {
				gs.logger.Warnf("config watcher stopped: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return server.New(renderers, store, manager, reg, gs.logger).ListenAndServe(ctx, c.addr)
	})
	return g.Wait()
}

func (c *serveCmd) openBus() (bus.MessageBus, error) {
	if c.natsURL == "" {
		return bus.NewMemoryBus(), nil
	}
	cfg := bus.DefaultConfig()
	cfg.URL = c.natsURL
	b, err := bus.NewNATSBus(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return b, nil
}

// startBrowser optionally installs the engine, then launches a session.
func (gs *globalState) startBrowser(opts config.LaunchOptions, autoInstall bool, reg prometheus.Registerer) (*browser.Manager, error) {
	gs.installer.EnsureInstalled(opts.Kind(), autoInstall, !gs.logger.DebugMode())

	driver, err := gs.newDriver()
	if err != nil {
		return nil, err
	}
	manager := browser.NewManager(driver, gs.logger, browser.NewMetrics(reg))
	if _, err := manager.Launch(opts); err != nil {
		_ = manager.Close()
		return nil, err
	}
	return manager, nil
}
