package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"remindd/internal/config"
	"remindd/internal/db"
	httpx "remindd/internal/http"
	"remindd/internal/push"
	"remindd/internal/reminder"
	"remindd/internal/schedule"
	"remindd/internal/sweep"
)

func main() {
	cfg, _ := config.Load()

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if cfg.DBDriver == "sqlite" {
		// Dev mode: the CRUD system is not around to migrate its tables.
		if err := db.MigrateSource(gdb); err != nil {
			log.Fatal().Err(err).Msg("source migrate failed")
		}
	}

	scheduler := &schedule.Service{
		DB:         gdb,
		WindowDays: cfg.WindowDays,
		Log:        log.With().Str("component", "schedule").Logger(),
	}
	deliverer := &sweep.Service{
		Source: &reminder.Repo{DB: gdb},
		Ledger: &sweep.Ledger{DB: gdb},
		Pusher: push.New(push.Config{
			Subscriber:      cfg.PushSubscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.PushTTL,
			Timeout:         cfg.PushTimeout,
			RatePerSec:      cfg.PushRatePerSec,
		}),
		Lookback:    cfg.SweepLookback,
		Lookahead:   cfg.SweepLookahead,
		StaleTTL:    cfg.EndpointStaleTTL,
		Parallelism: cfg.SweepParallelism,
		Log:         log.With().Str("component", "sweep").Logger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Overlapping runs are safe; the ledger's conditional insert is the
	// only serialization the sweep needs.
	c := cron.New()
	if _, err := c.AddFunc("@every "+cfg.SweepInterval.String(), func() {
		if _, err := deliverer.Run(ctx, time.Now().UTC()); err != nil {
			log.Error().Err(err).Msg("sweep run failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule sweep failed")
	}
	c.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, scheduler, deliverer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	<-c.Stop().Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
