package http

import (
	"github.com/nats-io/nats.go"

	"github.com/korope-ng/korope/internal/adapters/postgres"
	"github.com/korope-ng/korope/internal/adapters/valkey"
	"github.com/korope-ng/korope/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Locations *usecases.LocationResolver
	Planner   *usecases.RoutePlanner
	Fares     *usecases.FareEngine
	Trips     *usecases.TripTracker
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
	Limits    Limits
}

// Limits tunes the middleware stack. Zero values take the defaults.
type Limits struct {
	RequestTimeoutSeconds int
	RequestsPerMinute     int
	CORSOrigins           []string
}
