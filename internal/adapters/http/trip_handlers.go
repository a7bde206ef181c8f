package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/korope-ng/korope/internal/core/domain"
)

// requireUser aborts with 401 when the caller is unknown.
func requireUser(c *fiber.Ctx) (string, bool) {
	uid := c.Get(HeaderUserID)
	return uid, uid != ""
}

// StartTripRequest is the body of POST /v1/trips.
type StartTripRequest struct {
	RouteID  string          `json:"route_id"`
	Location domain.GeoPoint `json:"location"`
}

// StartTripHandler begins live tracking along a planned route.
func StartTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		var req StartTripRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if req.RouteID == "" {
			return errBadRequest(c, "route_id is required")
		}
		if !validCoordinate(req.Location) {
			return errBadRequest(c, "location must be a valid coordinate")
		}

		trip, err := deps.Trips.StartTrip(c.UserContext(), userID, req.RouteID, req.Location)
		if err != nil {
			return writeDomainError(c, err)
		}
		c.Set(fiber.HeaderLocation, "/v1/trips/"+trip.ID)
		return c.Status(fiber.StatusCreated).JSON(trip)
	}
}

// ActiveTripHandler returns the caller's in-progress trip.
func ActiveTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		trip, err := deps.Trips.ActiveTrip(c.UserContext(), userID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

// GetTripHandler returns one of the caller's trips.
func GetTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		trip, err := deps.Trips.GetTrip(c.UserContext(), c.Params("id"), userID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

// UpdateTripLocationHandler applies a position report and returns the progress.
func UpdateTripLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		var p domain.GeoPoint
		if err := c.BodyParser(&p); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if !validCoordinate(p) {
			return errBadRequest(c, "lat and lon must be a valid coordinate")
		}

		upd, err := deps.Trips.UpdateLocation(c.UserContext(), c.Params("id"), userID, p)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(upd)
	}
}

// CancelTripHandler ends a trip early.
func CancelTripHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		var body struct {
			Reason string `json:"reason"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return errBadRequest(c, "invalid JSON body")
			}
		}

		trip, err := deps.Trips.CancelTrip(c.UserContext(), c.Params("id"), userID, strings.TrimSpace(body.Reason))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

// AddTripNoteHandler attaches a free-text note to a trip.
func AddTripNoteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}

		var body struct {
			Note string `json:"note"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		note := strings.TrimSpace(body.Note)
		if note == "" {
			return errBadRequest(c, "note is required")
		}
		if len(note) > 500 {
			return errBadRequest(c, "note too long (max 500 characters)")
		}

		trip, err := deps.Trips.AddNote(c.UserContext(), c.Params("id"), userID, note)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(trip)
	}
}

// TripHistoryHandler pages through a trip's recorded positions.
func TripHistoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := requireUser(c)
		if !ok {
			return errUnauthorized(c, HeaderUserID+" header is required")
		}
		offset, limit := pageParams(c, 100, 500)

		samples, total, err := deps.Trips.History(c.UserContext(), c.Params("id"), userID, offset, limit)
		if err != nil {
			return writeDomainError(c, err)
		}
		if samples == nil {
			samples = []domain.LocationSample{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: samples, Pagination: pg})
	}
}
