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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"

	"github.com/korope-ng/korope/internal/adapters/fcm"
	"github.com/korope-ng/korope/internal/adapters/googlemaps"
	"github.com/korope-ng/korope/internal/adapters/http"
	natsadapter "github.com/korope-ng/korope/internal/adapters/nats"
	"github.com/korope-ng/korope/internal/adapters/postgres"
	"github.com/korope-ng/korope/internal/adapters/redislock"
	"github.com/korope-ng/korope/internal/adapters/valkey"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/core/usecases"
	"github.com/korope-ng/korope/internal/pkg/config"
	"github.com/korope-ng/korope/internal/pkg/logging"
	"github.com/korope-ng/korope/internal/pkg/metrics"
	"github.com/korope-ng/korope/internal/pkg/telemetry"
	"github.com/korope-ng/korope/internal/workflows"
)

func main() {
	cfg, err := config.Load("korope-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup("korope-api", cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr, cfg.Telemetry.SampleRatio)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go reportPoolStats(ctx, db)

	// Cache. A nil *valkey.Cache must not leak into the ports interfaces.
	var cache ports.CacheService
	vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.KeyPrefix)
	if err != nil {
		slog.Warn("valkey unavailable, caching disabled", "error", err)
	} else {
		defer vc.Close()
		cache = vc
	}

	// Per-trip lock
	var locker ports.Locker
	if cfg.Redis.Addr != "" {
		rc, err := redislock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("redis unavailable, trip writes rely on versioning", "error", err)
		} else {
			defer rc.Close()
			locker = redislock.New(rc)
		}
	}

	// NATS
	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, trip events disabled", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	// Google Maps
	var (
		geocoder   ports.Geocoder
		directions ports.DirectionsProvider
	)
	if cfg.Maps.APIKey != "" {
		gm, err := googlemaps.New(googlemaps.Options{
			APIKey:  cfg.Maps.APIKey,
			BaseURL: cfg.Maps.BaseURL,
			Region:  cfg.Maps.Region,
			Timeout: cfg.Maps.Timeout(),
		})
		if err != nil {
			slog.Warn("google maps unavailable", "error", err)
		} else {
			geocoder, directions = gm, gm
		}
	}

	// Push notifications
	var notifier ports.NotificationService = fcm.LogNotifier{}
	if cfg.Firebase.ProjectID != "" {
		n, err := fcm.New(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			slog.Warn("firebase unavailable, notifications are logged only", "error", err)
		} else {
			notifier = n
		}
	}

	// Feedback review workflows
	var reviewer ports.FeedbackReviewer
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    slog.Default(),
		})
		if err != nil {
			slog.Warn("temporal unavailable, feedback is not reviewed", "error", err)
		} else {
			defer tc.Close()
			window := time.Duration(cfg.Temporal.ReviewWindowHours) * time.Hour
			reviewer = workflows.NewReviewer(tc, cfg.Temporal.TaskQueue, window)
		}
	}

	// Repos
	locationRepo := postgres.NewLocationRepo(db)
	routeRepo := postgres.NewRouteRepo(db)
	segmentRepo := postgres.NewSegmentRepo(db)
	fareRuleRepo := postgres.NewFareRuleRepo(db)
	feedbackRepo := postgres.NewFareFeedbackRepo(db)
	tripRepo := postgres.NewTripRepo(db)

	// Use cases
	resolver := usecases.NewLocationResolver(locationRepo, geocoder, cache, cfg.Resolver.MatchRadiusMeters)
	fares := usecases.NewFareEngine(fareRuleRepo, feedbackRepo, reviewer, cache, fareOptions(cfg.Fare))
	planner := usecases.NewRoutePlanner(usecases.RoutePlannerDeps{
		Routes:     routeRepo,
		Segments:   segmentRepo,
		Resolver:   resolver,
		Fares:      fares,
		Directions: directions,
		Cache:      cache,
	}, usecases.PlannerOptions{
		MaxResults:         cfg.Routing.MaxResults,
		MaxDepth:           cfg.Routing.MaxDepth,
		WalkSearchRadiusKm: cfg.Routing.WalkSearchRadiusKm,
		MaxWalkMeters:      cfg.Routing.MaxWalkMeters,
		WalkOnlyMeters:     cfg.Routing.WalkOnlyMeters,
		PlanCacheTTL:       time.Duration(cfg.Routing.PlanCacheSeconds) * time.Second,
	})
	tracker := usecases.NewTripTracker(tripRepo, planner, notifier, events, locker, usecases.TrackerOptions{
		ArrivalRadiusMeters:  cfg.Tracking.ArrivalRadiusMeters,
		ApproachRadiusMeters: cfg.Tracking.ApproachRadiusMeters,
		AverageSpeedKmh:      cfg.Tracking.AverageSpeedKmh,
		LockTTL:              time.Duration(cfg.Tracking.LockTTLSeconds) * time.Second,
		MaxRetries:           cfg.Tracking.MaxRetries,
	})

	deps := &http.Dependencies{
		Locations: resolver,
		Planner:   planner,
		Fares:     fares,
		Trips:     tracker,
		DB:        db,
		Cache:     vc,
		Limits: http.Limits{
			RequestTimeoutSeconds: cfg.Server.RequestTimeout,
			RequestsPerMinute:     cfg.Server.RateLimit,
			CORSOrigins:           cfg.Server.CORSOrigins,
		},
	}
	if pub != nil {
		deps.NATS = pub.Conn()
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Korope API",
	})
	app.Use(recover.New())

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func fareOptions(c config.FareConfig) usecases.FareOptions {
	opts := usecases.DefaultFareOptions()
	opts.Band = c.Band
	opts.DeviationThreshold = c.DeviationThreshold
	opts.Ceiling = c.Ceiling
	if c.HistoryDays > 0 {
		opts.HistoryWindow = time.Duration(c.HistoryDays) * 24 * time.Hour
	}
	if len(c.Holidays) > 0 {
		opts.Holidays = c.Holidays
	}
	return opts
}

// reportPoolStats exports pgx pool gauges every 15s until ctx is cancelled.
func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Stat())
		}
	}
}
