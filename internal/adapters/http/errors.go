package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/korope-ng/korope/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errUnauthorized returns a 401 error.
func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, 401, "unauthorized", msg)
}

// errorMapping pairs a domain sentinel with its HTTP rendering.
type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the more specific sentinels come first.
var domainErrors = []errorMapping{
	{domain.ErrLocationUnresolved, fiber.StatusUnprocessableEntity, "location_unresolved"},
	{domain.ErrNoRouteFound, fiber.StatusNotFound, "no_route_found"},
	{domain.ErrTripNotFound, fiber.StatusNotFound, "trip_not_found"},
	{domain.ErrTripAlreadyActive, fiber.StatusConflict, "trip_already_active"},
	{domain.ErrInvalidTripState, fiber.StatusConflict, "invalid_trip_state"},
	{domain.ErrConflict, fiber.StatusConflict, "conflict"},
	{domain.ErrExternalProviderTimeout, fiber.StatusGatewayTimeout, "provider_timeout"},
	{domain.ErrInvalidFareRule, fiber.StatusBadRequest, "invalid_fare_rule"},
	{domain.ErrInvalidFareRequest, fiber.StatusBadRequest, "invalid_fare_request"},
	{domain.ErrInvalidFeedback, fiber.StatusBadRequest, "invalid_feedback"},
	{domain.ErrNotFound, fiber.StatusNotFound, "not_found"},
}

// writeDomainError renders err using the sentinel it wraps. Anything
// unrecognised is logged and reported as a 500 without internal detail.
func writeDomainError(c *fiber.Ctx, err error) error {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return newError(c, m.status, m.code, err.Error())
		}
	}
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return newError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}
