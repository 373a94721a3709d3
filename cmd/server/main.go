package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/voxhall/voxhall/internal/adapters/http"
	signalws "github.com/voxhall/voxhall/internal/adapters/signal"
	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/auth"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var gateway store.Gateway
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresGateway(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		gateway = pg
	} else {
		log.Info().Msg("no database_url configured, using in-memory gateway")
		gateway = store.NewMemoryGateway()
	}
	defer gateway.Close()
	records := store.New(gateway)

	authSvc := auth.NewService(records, []byte(cfg.JWTSecret), cfg.JWTTTL)

	sessions := app.NewSessionRegistry(authSvc)
	rooms := app.NewRouter()
	relay := app.NewRelay(rooms)
	contrib := app.NewContribTimers(ctx, cfg.ContribInterval, records)
	engine := app.NewEngine(sessions, rooms, relay, contrib, records)
	limiter := app.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval)

	ctrl := signalws.NewController(engine, limiter, cfg)

	r := router.SetupRouter(ctx, router.Deps{
		Cfg:      cfg,
		Auth:     authSvc,
		Sessions: sessions,
		Records:  records,
		Signal:   ctrl,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voxhall server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
