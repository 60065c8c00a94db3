package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"mediaflow/internal/app"
	"mediaflow/internal/infra"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	configFile := flags.String("config", "config.yaml", "optional YAML config file")
	flags.String("http.port", "", "listen port")
	flags.String("store.backend", "", "repository backend: memory, pebble or postgres")
	flags.String("blob.backend", "", "blob backend: filesystem, memory, s3 or gcs")
	flags.Int("worker.size", 0, "number of worker slots")
	_ = flags.Parse(os.Args[1:])

	cfg, err := infra.LoadConfig(infra.LoadOptions{File: *configFile, Flags: flags, DotEnv: []string{".env"}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.App.Env, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close backends")
		}
	}()

	logger.Info().Str("store", cfg.Store.Backend).Str("blob", cfg.Blob.Backend).Msg("mediaflow starting")
	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
