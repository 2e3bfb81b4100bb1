package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/nodehost/host"
	"github.com/GoCodeAlone/nodehost/observability"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var hf hostFlags
	hf.register(fs)
	addr := fs.String("addr", "", "HTTP listen address (overrides server.addr)")
	watch := fs.Bool("watch", false, "Hot reload plugin directories (overrides plugins.watch)")
	graphPath := fs.String("graph", "", "Initial workflow graph JSON")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: nodehost serve [options]\n\nServe the host API over HTTP.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := hf.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *watch {
		cfg.Plugins.Watch = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var hostOpts []host.Option
	if cfg.Tracing.Enabled {
		provider, err := observability.NewProvider(context.Background(), cfg.Tracing, version)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
		hostOpts = append(hostOpts, host.WithTracer(provider.Tracer()))
	}

	app, loader, loadErr := buildApp(cfg, hostOpts...)
	if app == nil {
		return loadErr
	}
	logger := app.Logger()
	if loadErr != nil {
		logger.Warn("some plugins failed to load", "error", loadErr)
	}
	if err := loadGraph(app, *graphPath); err != nil {
		return err
	}

	if cfg.Plugins.Watch {
		w, err := app.WatchPlugins(loader, cfg.Plugins)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving host API", "addr", cfg.Server.Addr, "metrics", cfg.Metrics.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})
	return g.Wait()
}
