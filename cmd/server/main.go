package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	wsignal "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	sessions := app.NewSessionManager(app.SessionManagerOptions{
		DefaultMaxParticipants: cfg.Sessions.MaxParticipants,
		ArchiveLimit:           cfg.Sessions.ArchiveLimit,
	})
	reg := app.NewRegistry()
	o := orch.New(reg, sessions, policy(cfg), domain.Role(cfg.Sessions.DefaultRole))

	ctl := wsignal.NewSignalWSController(o, wsignal.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		ChatRate:   rate.Limit(cfg.Chat.Rate),
		ChatBurst:  cfg.Chat.Burst,
	})

	r := router.SetupRouter(ctx, cfg, o, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func policy(cfg *config.Config) app.Policy {
	if cfg.Sessions.Policy == "tolerant" {
		return &app.TolerantPolicy{Limit: cfg.Sessions.TolerateDrop}
	}
	return app.SimplePolicy{}
}
