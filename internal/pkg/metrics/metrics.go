package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "korope",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "korope",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Routing metrics
	RoutePlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "routing",
		Name:      "plans_total",
		Help:      "Route plans answered, by the strategy that produced them",
	}, []string{"strategy"})

	RoutePlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "korope",
		Subsystem: "routing",
		Name:      "plan_duration_seconds",
		Help:      "Time spent composing candidate routes",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	ExternalProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Calls to external geocoding and directions providers",
	}, []string{"operation", "outcome"})

	// Fare metrics
	FareEstimatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "fare",
		Name:      "estimates_total",
		Help:      "Fare estimates produced",
	}, []string{"mode", "confidence"})

	FareFeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "fare",
		Name:      "feedback_total",
		Help:      "Fare observations submitted, by validation outcome",
	}, []string{"outcome"})

	// Trip metrics
	TripsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "trips",
		Name:      "started_total",
		Help:      "Trips started",
	})

	TripsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "trips",
		Name:      "ended_total",
		Help:      "Trips that reached a terminal status",
	}, []string{"status"})

	LocationUpdatesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "trips",
		Name:      "location_updates_total",
		Help:      "Location updates applied to trips",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "trips",
		Name:      "notifications_total",
		Help:      "Trip notifications dispatched",
	}, []string{"kind", "outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "korope",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})

	// pgx reports these cumulatively, so they are exported as gauges.
	DBPoolEmptyAcquires = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_empty_acquires",
		Help:      "Cumulative acquires that had to wait for a new or released connection",
	})

	DBPoolAcquires = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_acquires",
		Help:      "Cumulative successful acquires from the database pool",
	})

	DBPoolAcquireSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "korope",
		Subsystem: "db",
		Name:      "pool_acquire_seconds",
		Help:      "Cumulative time spent acquiring database connections",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
func UpdateDBPoolMetrics(stat interface{}) {
	// Matched structurally so this package does not depend on pgxpool.
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
		AcquireCount() int64
		EmptyAcquireCount() int64
		AcquireDuration() time.Duration
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
		DBPoolAcquires.Set(float64(s.AcquireCount()))
		DBPoolEmptyAcquires.Set(float64(s.EmptyAcquireCount()))
		DBPoolAcquireSeconds.Set(s.AcquireDuration().Seconds())
	}
}
