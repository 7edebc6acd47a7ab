package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"transit-simulator/internal/api"
	"transit-simulator/internal/apperr"
	"transit-simulator/internal/calendar"
	"transit-simulator/internal/config"
	"transit-simulator/internal/db"
	"transit-simulator/internal/log"
	"transit-simulator/internal/metrics"
	"transit-simulator/internal/publisher"
	"transit-simulator/internal/sim"
	"transit-simulator/internal/transit"
)

func main() {
	if err := run(); err != nil {
		l := log.Base()
		l.Error().Err(err).Msg("simulator exited")
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := log.WithComponent("main")

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.SpeedMultiplier, cfg.PublishInterval, cfg.SchedulerResolution)

	// Postgres is optional; without it calendars live in memory and trips cannot be resolved
	var trips sim.TripSource = unavailableTrips{}
	var store calendar.Store = calendar.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		sqlDB, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		cs := db.NewCalendarStore(sqlDB)
		if err := cs.EnsureSchema(ctx); err != nil {
			return err
		}
		trips, store = db.NewTripStore(sqlDB), cs
		logger.Info().Msg("using postgres for trips and calendars")
	} else {
		logger.Warn().Msg("no database configured; simulations are unavailable and calendars are kept in memory")
	}

	calendars := calendar.NewService(store, mcol, log.WithComponent("calendar"))
	if err := calendars.SeedBuiltins(ctx); err != nil {
		return fmt.Errorf("seed calendars: %w", err)
	}

	// Sinks: NATS and Redis when configured, plus the WebSocket hub
	hub := api.NewHub(log.WithComponent("stream"))
	sinks := publisher.Fanout{hub}
	var positions api.PositionReader
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, mcol, log.WithComponent("nats"))
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if cfg.RedisAddr != "" {
		rs, err := publisher.NewRedisStore(ctx, publisher.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisPositionTTL,
		}, mcol, log.WithComponent("redis"))
		if err != nil {
			return err
		}
		defer rs.Close()
		sinks = append(sinks, rs)
		positions = rs
	}
	async := publisher.NewAsync(sinks, cfg.PublishQueueSize, mcol, log.WithComponent("publisher"))

	reg := sim.NewRegistry(trips, sim.Options{
		DefaultSpeedMultiplier: cfg.SpeedMultiplier,
		MaxSpeedMultiplier:     cfg.MaxSpeedMultiplier,
		DefaultUpdateInterval:  cfg.PublishInterval,
		MinUpdateInterval:      cfg.SchedulerResolution,
		DensifyMeters:          cfg.DensifyMeters,
		Seed:                   cfg.JitterSeed,
		Sink:                   async,
		Metrics:                mcol,
		Logger:                 log.WithComponent("registry"),
	})
	sched := sim.NewScheduler(reg, async, sim.SchedulerOptions{
		Resolution: cfg.SchedulerResolution,
		Retention:  cfg.SessionRetention,
		Metrics:    mcol,
		Logger:     log.WithComponent("scheduler"),
	})

	srv := api.NewServer(api.Config{
		Registry:  reg,
		Calendars: calendars,
		Positions: positions,
		Hub:       hub,
		RateLimit: cfg.RateLimitPerMinute,
		Location:  cfg.Location,
		Logger:    log.WithComponent("http"),
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}
	servers := []*http.Server{httpSrv}
	if cfg.MetricsAddr != "" {
		servers = append(servers, mcol.Server(cfg.MetricsAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	for _, s := range servers {
		s := s
		g.Go(func() error {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// Allow graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		for _, s := range servers {
			_ = s.Shutdown(shutdownCtx)
		}
		return nil
	})
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")

	err = g.Wait()
	async.Close()
	logger.Info().Msg("shutdown complete")
	return err
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlDB, nil
}

// unavailableTrips is the trip source used when no database is configured.
type unavailableTrips struct{}

func (unavailableTrips) LookupTrip(_ context.Context, tripID string) (transit.Trip, error) {
	return transit.Trip{}, fmt.Errorf("trip %s: no trip database configured: %w", tripID, apperr.ErrNotFound)
}
