// Command tracker consumes traveler position reports from NATS and advances
// the matching active trips.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/korope-ng/korope/internal/adapters/fcm"
	natsadapter "github.com/korope-ng/korope/internal/adapters/nats"
	"github.com/korope-ng/korope/internal/adapters/postgres"
	"github.com/korope-ng/korope/internal/adapters/redislock"
	"github.com/korope-ng/korope/internal/adapters/valkey"
	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/core/usecases"
	"github.com/korope-ng/korope/internal/pkg/config"
	"github.com/korope-ng/korope/internal/pkg/logging"
	"github.com/korope-ng/korope/internal/pkg/metrics"
)

func main() {
	cfg, err := config.Load("korope-tracker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("korope-tracker", cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var cache ports.CacheService
	if vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.KeyPrefix); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vc.Close()
		cache = vc
	}

	var locker ports.Locker
	if cfg.Redis.Addr != "" {
		rc, err := redislock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("redis unavailable", "error", err)
		} else {
			defer rc.Close()
			locker = redislock.New(rc)
		}
	}

	var notifier ports.NotificationService = fcm.LogNotifier{}
	if cfg.Firebase.ProjectID != "" {
		if n, err := fcm.New(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile); err != nil {
			slog.Warn("firebase unavailable", "error", err)
		} else {
			notifier = n
		}
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer pub.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	// Trips carry a snapshot of their route; the planner is only consulted
	// to look up the route when a trip starts.
	resolver := usecases.NewLocationResolver(postgres.NewLocationRepo(db), nil, cache, cfg.Resolver.MatchRadiusMeters)
	fares := usecases.NewFareEngine(postgres.NewFareRuleRepo(db), postgres.NewFareFeedbackRepo(db), nil, cache, usecases.DefaultFareOptions())
	planner := usecases.NewRoutePlanner(usecases.RoutePlannerDeps{
		Routes:   postgres.NewRouteRepo(db),
		Segments: postgres.NewSegmentRepo(db),
		Resolver: resolver,
		Fares:    fares,
		Cache:    cache,
	}, usecases.DefaultPlannerOptions())

	tracker := usecases.NewTripTracker(postgres.NewTripRepo(db), planner, notifier, pub, locker, usecases.TrackerOptions{
		ArrivalRadiusMeters:  cfg.Tracking.ArrivalRadiusMeters,
		ApproachRadiusMeters: cfg.Tracking.ApproachRadiusMeters,
		AverageSpeedKmh:      cfg.Tracking.AverageSpeedKmh,
		LockTTL:              time.Duration(cfg.Tracking.LockTTLSeconds) * time.Second,
		MaxRetries:           cfg.Tracking.MaxRetries,
	})

	err = sub.SubscribeLocationUpdates(ctx, func(ctx context.Context, u *domain.LocationUpdate) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return tracker.ProcessLocationUpdate(ctx, u)
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	// Metrics and liveness
	app := fiber.New(fiber.Config{DisableStartupMessage: true, AppName: "Korope Tracker"})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "nats": pub.Conn().IsConnected()})
	})
	app.Get("/metrics", metrics.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := app.Listen(addr); err != nil {
			slog.Error("metrics listener stopped", "error", err)
		}
	}()

	slog.Info("tracker running", "subject", natsadapter.LocationSubject(">"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("tracker shutting down")
	cancel()
	_ = app.ShutdownWithTimeout(5 * time.Second)
}
