package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commissions-backend/bootstrap"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rt, err := bootstrap.New()
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Resources.Rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	log.Info().Msg("Redis connected")

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", rt.Config.Port).Str("env", rt.Config.Env).Msg("server running")
		errCh <- rt.App.Listen(":" + rt.Config.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failure")
		}
	}

	if err := rt.App.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	rt.Resources.Close()
	log.Info().Msg("server stopped")
}
