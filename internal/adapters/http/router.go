package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/korope-ng/korope/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	reqTimeout := 15 * time.Second
	if deps.Limits.RequestTimeoutSeconds > 0 {
		reqTimeout = time.Duration(deps.Limits.RequestTimeoutSeconds) * time.Second
	}
	perMinute := 120
	if deps.Limits.RequestsPerMinute > 0 {
		perMinute = deps.Limits.RequestsPerMinute
	}
	withTimeout := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, reqTimeout)
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if len(deps.Limits.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(deps.Limits.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, " + HeaderUserID,
		}))
	}

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Rate limiting per caller, falling back to the client IP
	app.Use(limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid := c.Get(HeaderUserID); uid != "" {
				return "user:" + uid
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", APIVersion)
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	v1.Post("/locations/resolve", withTimeout(ResolveLocationHandler(deps)))
	v1.Get("/locations/nearby", withTimeout(NearbyLocationsHandler(deps)))
	v1.Get("/locations/search", withTimeout(SearchLocationsHandler(deps)))
	v1.Get("/locations/:id", withTimeout(GetLocationHandler(deps)))

	v1.Post("/routes/plan", withTimeout(PlanRoutesHandler(deps)))
	v1.Get("/routes/:id", withTimeout(GetRouteHandler(deps)))
	v1.Get("/segments/:id/alternatives", withTimeout(AlternativeStopsHandler(deps)))

	v1.Post("/fares/estimate", withTimeout(EstimateFareHandler(deps)))
	v1.Get("/fares/rules", withTimeout(ListFareRulesHandler(deps)))
	v1.Post("/fares/rules", withTimeout(CreateFareRuleHandler(deps)))
	v1.Post("/fares/feedback", withTimeout(SubmitFeedbackHandler(deps)))
	v1.Post("/fares/feedback/:id/dispute", withTimeout(DisputeFeedbackHandler(deps)))

	v1.Post("/trips", withTimeout(StartTripHandler(deps)))
	v1.Get("/trips/active", withTimeout(ActiveTripHandler(deps)))
	v1.Get("/trips/:id", withTimeout(GetTripHandler(deps)))
	v1.Post("/trips/:id/location", withTimeout(UpdateTripLocationHandler(deps)))
	v1.Post("/trips/:id/cancel", withTimeout(CancelTripHandler(deps)))
	v1.Post("/trips/:id/notes", withTimeout(AddTripNoteHandler(deps)))
	v1.Get("/trips/:id/history", withTimeout(TripHistoryHandler(deps)))

	// GraphQL
	app.Post("/graphql", withTimeout(GraphQLHandler(deps)))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		uid := c.Get(HeaderUserID)
		if uid == "" {
			uid = c.Query("user_id")
		}
		if uid == "" {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}
		c.Locals("user_id", uid)
		return c.Next()
	})
	if deps.NATS != nil {
		app.Get("/ws", websocket.New(WebSocketHandler(deps)))
	}
}
