package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockcast-api/internal/scheduler"
	"stockcast-api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer s.Close()

	app := server.New(s.cfg, server.Deps{
		Orchestrator: s.orchestrator,
		Cache:        s.cache,
		MarketData:   s.marketData,
		Metrics:      s.metrics,
	}, s.log)

	var warmer *scheduler.Warmer
	if len(s.cfg.WarmSymbols) > 0 {
		warmer, err = scheduler.NewWarmer(s.orchestrator, s.cfg.WarmSchedule, s.cfg.WarmSymbols, 5*time.Minute, s.log)
		if err != nil {
			return err
		}
		warmer.Start()
		go func() { _ = warmer.Run(ctx) }()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + s.cfg.Port)
	}()

	s.log.Info().
		Str("port", s.cfg.Port).
		Strs("providers", s.marketData.Providers()).
		Bool("redis", s.cfg.RedisAddr != "").
		Bool("firestore", s.cfg.FirestoreProject != "").
		Msg("stockcast API started")

	select {
	case err := <-errCh:
		s.log.Error().Err(err).Msg("server stopped unexpectedly")
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if warmer != nil {
		warmer.Stop(shutdownCtx)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	s.log.Info().Msg("server shutdown complete")
	return nil
}
