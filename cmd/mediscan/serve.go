package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"MediScan/internal/config"
	"MediScan/internal/server"
)

func serveCMD() *cobra.Command {
	var flags configFlags
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(func(cfg *config.Config) {
				if addr != "" {
					cfg.Server.Address = addr
				}
			})
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags.register(serve)
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(cfg.Server, a.svc, server.Options{
		Logger:     a.logger,
		SessionTTL: cfg.Session.TTL,
		Registry:   registry,
	})

	a.logger.Info("starting mediscan",
		"version", version,
		"addr", cfg.Server.Address,
		"backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
		"session_store", cfg.Session.Store,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Address) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
