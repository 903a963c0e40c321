package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/app"
	"github.com/DoyleJ11/skygames-rooms/internal/config"
	"github.com/DoyleJ11/skygames-rooms/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rooms and presence API until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
