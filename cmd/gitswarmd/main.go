// Command gitswarmd is the multi-tenant server deployment described in
// spec.md §4.A/§6.1/§6.5: a Postgres+Redis-backed Coordinator exposed over
// an authenticated HTTP API, with scheduled sweeps for council proposal
// expiry and repository stage advancement.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/config"
	"github.com/dyluth/gitswarm/internal/coordinator"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
	"github.com/dyluth/gitswarm/pkg/gitbackend/dockerrun"
	"github.com/dyluth/gitswarm/pkg/ids"
	"github.com/dyluth/gitswarm/pkg/store/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := newLogger()
	log.Info().Str("version", version).Str("commit", commit).Str("built", date).Msg("gitswarmd starting")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Error().Err(err).Msg("load server config")
		return 1
	}
	log = log.Level(parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := server.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return 1
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		log.Error().Err(err).Msg("parse cache url")
		return 1
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	git := gitbackend.NewExecBackend()
	coord := coordinator.New(db, git, rdb, log, ids.New, nowMs)

	if cfg.StabilizeImage != "" {
		runner, err := dockerrun.New(ctx, cfg.StabilizeImage)
		if err != nil {
			log.Warn().Err(err).Msg("docker daemon unreachable; repositories with stabilize_in_container will fall back to host execution")
		} else {
			defer runner.Close()
			coord.SetContainerRunner(runner)
		}
	}

	scheduler := newScheduler(coord, log)
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      newRouter(coord, cfg, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return 1
	}
	return 0
}

func nowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
