package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/usecases"
)

// HeaderUserID carries the authenticated caller. Authentication itself is
// terminated upstream at the gateway.
const HeaderUserID = "X-User-ID"

func validCoordinate(p domain.GeoPoint) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 && !(p.Lat == 0 && p.Lon == 0)
}

func validResolveInput(in usecases.ResolveInput) bool {
	if in.Coordinate != nil && !validCoordinate(*in.Coordinate) {
		return false
	}
	return in.LocationID != "" || in.Coordinate != nil || strings.TrimSpace(in.Address) != ""
}

// ── Locations ───────────────────────────────────────────────

// ResolveLocationHandler maps an id, coordinate or address to a canonical location.
func ResolveLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in usecases.ResolveInput
		if err := c.BodyParser(&in); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if !validResolveInput(in) {
			return errBadRequest(c, "one of location_id, coordinate or address is required")
		}

		loc, err := deps.Locations.Resolve(c.UserContext(), in)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(loc)
	}
}

// NearbyLocationsHandler returns locations within a radius of a point.
func NearbyLocationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := domain.GeoPoint{Lat: c.QueryFloat("lat", 0), Lon: c.QueryFloat("lon", 0)}
		radius := c.QueryFloat("radius", 500)
		limit := c.QueryInt("limit", 20)

		if !validCoordinate(p) {
			return errBadRequest(c, "lat and lon are required")
		}
		if radius <= 0 || radius > 10000 {
			return errBadRequest(c, "radius must be between 1 and 10000 meters")
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		locs, err := deps.Locations.Nearby(c.UserContext(), p, radius, limit)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(locs)
	}
}

// SearchLocationsHandler performs fuzzy search on location names and addresses.
func SearchLocationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			return errBadRequest(c, "q query parameter is required")
		}
		if len(query) > 200 {
			return errBadRequest(c, "query too long (max 200 characters)")
		}
		limit := c.QueryInt("limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		locs, err := deps.Locations.Search(c.UserContext(), query, limit)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(locs)
	}
}

// GetLocationHandler returns a single location by ID.
func GetLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		loc, err := deps.Locations.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(loc)
	}
}

// ── Routes ──────────────────────────────────────────────────

// PlanRequest is the body of POST /v1/routes/plan.
type PlanRequest struct {
	From usecases.ResolveInput `json:"from"`
	To   usecases.ResolveInput `json:"to"`
}

// PlanRoutesHandler finds ranked routes between two places.
func PlanRoutesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req PlanRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if !validResolveInput(req.From) {
			return errBadRequest(c, "from: one of location_id, coordinate or address is required")
		}
		if !validResolveInput(req.To) {
			return errBadRequest(c, "to: one of location_id, coordinate or address is required")
		}

		routes, err := deps.Planner.PlanRoutes(c.UserContext(), req.From, req.To)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"routes": routes, "count": len(routes)})
	}
}

// GetRouteHandler returns a stored, composed or recently planned route.
func GetRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rr, err := deps.Planner.LookupRoute(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(rr)
	}
}

// AlternativeStopsHandler suggests intermediate stops to alight at instead of
// a segment's end.
func AlternativeStopsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		alts, err := deps.Planner.AlternativeStops(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		if alts == nil {
			alts = []domain.AlternativeStop{}
		}
		return c.JSON(alts)
	}
}

// ── Fares ───────────────────────────────────────────────────

// EstimateFareHandler prices a ride.
func EstimateFareHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req domain.FareRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if !req.Mode.Valid() {
			return errBadRequest(c, "mode is required")
		}

		est, err := deps.Fares.EstimateFare(c.UserContext(), req)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(est)
	}
}

// ListFareRulesHandler lists active fare rules, optionally filtered by mode.
func ListFareRulesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mode := domain.TransportMode(c.Query("mode"))
		if mode != "" && !mode.Valid() {
			return errBadRequest(c, "unknown mode")
		}

		rules, err := deps.Fares.ListRules(c.UserContext(), mode)
		if err != nil {
			return writeDomainError(c, err)
		}
		if rules == nil {
			rules = []domain.FareRule{}
		}
		return c.JSON(rules)
	}
}

// CreateFareRuleHandler stores a new fare rule.
func CreateFareRuleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var rule domain.FareRule
		if err := c.BodyParser(&rule); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		rule.ID = ""
		rule.Active = true

		if err := deps.Fares.SaveRule(c.UserContext(), &rule); err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rule)
	}
}

// FeedbackResponse is returned after a fare observation is accepted.
type FeedbackResponse struct {
	Feedback   *domain.FareFeedback       `json:"feedback"`
	Validation *domain.FeedbackValidation `json:"validation"`
}

// SubmitFeedbackHandler records what a traveler actually paid.
func SubmitFeedbackHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		var fb domain.FareFeedback
		if err := c.BodyParser(&fb); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		fb.UserID = userID

		v, err := deps.Fares.SubmitFeedback(c.UserContext(), &fb)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(FeedbackResponse{Feedback: &fb, Validation: v})
	}
}

// DisputeFeedbackHandler excludes an observation from future estimates.
func DisputeFeedbackHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get(HeaderUserID) == "" {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}
		if err := deps.Fares.DisputeFeedback(c.UserContext(), c.Params("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"id": c.Params("id"), "disputed": true})
	}
}
