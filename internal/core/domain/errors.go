package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("concurrent modification")
	ErrLocationUnresolved      = errors.New("location could not be resolved")
	ErrNoRouteFound            = errors.New("no route found")
	ErrExternalProviderTimeout = errors.New("external provider timed out")
	ErrTripAlreadyActive       = errors.New("user already has an active trip")
	ErrTripNotFound            = errors.New("trip not found")
	ErrInvalidTripState        = errors.New("invalid trip state")
	ErrInvalidFareRule         = errors.New("invalid fare rule")
	ErrInvalidFareRequest      = errors.New("invalid fare request")
	ErrInvalidFeedback         = errors.New("invalid fare feedback")
)
