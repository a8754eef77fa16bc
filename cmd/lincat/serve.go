package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/docutag/lincat/api"
	"github.com/docutag/lincat/auth"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/tracing"
)

const dbStatsInterval = 15 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
	cmd.Flags().String("port", "8080", "HTTP listen port")
	cmd.Flags().Bool("disable-cors", false, "do not send CORS headers")
	bindFlags(c.v, cmd, map[string]string{"PORT": "port"})
	// disable-cors inverts CORS_ENABLED, so it is read directly.
	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		if disabled, _ := cmd.Flags().GetBool("disable-cors"); disabled {
			c.cfg.CORSEnabled = false
		}
	}
	return cmd
}

func runServe(ctx context.Context, c *cli) error {
	cfg, log := c.cfg, c.log
	log.Info("lincat service initializing", logger.String("driver", cfg.DatabaseDriver))

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		log.Warn("failed to initialize tracer, continuing without tracing", logger.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("error shutting down tracer", logger.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	archive, err := a.archive(ctx)
	if err != nil {
		return err
	}

	var verifier *auth.Verifier
	if !cfg.LocalMode() {
		verifier = auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
		log.Info("bearer token authentication enabled")
	} else {
		log.Warn("AUTH_JWT_SECRET not set, running in single-user local mode")
	}

	server, err := api.NewServer(api.Config{
		Addr:              cfg.Addr(),
		CORSEnabled:       cfg.CORSEnabled,
		CORSOrigin:        cfg.CORSOrigin,
		CategorizeTimeout: cfg.CategorizeTimeout,
		RateLimit: api.RateLimitConfig{
			Burst:        cfg.RateLimitBurst,
			RefillPerMin: cfg.RateLimitPerMin,
			MaxEntries:   10000,
			TrustProxy:   cfg.TrustProxy,
		},
	}, api.Deps{
		Store:       a.db,
		Categorizer: a.categorizer,
		Archive:     archive,
		Verifier:    verifier,
		Logger:      log,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.UpdateDBStats(a.db.DB())
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return errors.New("server stopped unexpectedly")
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
