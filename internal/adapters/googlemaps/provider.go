package googlemaps

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/metrics"
)

// Provider implements ports.Geocoder and ports.DirectionsProvider with the
// Google Maps web services. Every call is bounded by a short timeout and is
// never retried.
type Provider struct {
	client  *maps.Client
	region  string
	timeout time.Duration
}

// Options configures a Provider.
type Options struct {
	APIKey  string
	BaseURL string // overrides the API host, used in tests
	Region  string
	Timeout time.Duration
}

// New creates a new Provider.
func New(opts Options) (*Provider, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Provider{client: client, region: opts.Region, timeout: opts.Timeout}, nil
}

// Geocode looks up an address.
func (p *Provider) Geocode(ctx context.Context, address string) ([]ports.GeocodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results, err := p.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  p.region,
	})
	if err = p.observe("geocode", err); err != nil {
		if isZeroResults(err) {
			return nil, nil
		}
		return nil, err
	}
	return toGeocodeResults(results), nil
}

// ReverseGeocode names the place at a coordinate.
func (p *Provider) ReverseGeocode(ctx context.Context, point domain.GeoPoint) ([]ports.GeocodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results, err := p.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: point.Lat, Lng: point.Lon},
		Region: p.region,
	})
	if err = p.observe("reverse_geocode", err); err != nil {
		if isZeroResults(err) {
			return nil, nil
		}
		return nil, err
	}
	return toGeocodeResults(results), nil
}

// GetDirections asks for the first route between two points.
func (p *Provider) GetDirections(ctx context.Context, origin, destination domain.GeoPoint, mode domain.TransportMode) (*ports.Directions, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	routes, _, err := p.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        travelMode(mode),
		Region:      p.region,
	})
	if err = p.observe("directions", err); err != nil {
		if isZeroResults(err) {
			return nil, domain.ErrNoRouteFound
		}
		return nil, err
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, domain.ErrNoRouteFound
	}

	route := routes[0]
	d := &ports.Directions{Summary: route.Summary}
	if route.Fare != nil {
		v := route.Fare.Value
		d.Fare = &v
	}
	for _, leg := range route.Legs {
		d.DistanceMeters += float64(leg.Distance.Meters)
		d.Duration += leg.Duration
		for _, s := range leg.Steps {
			d.Steps = append(d.Steps, ports.DirectionsStep{
				Instruction:    StripHTML(s.HTMLInstructions),
				Mode:           stepMode(s.TravelMode, mode),
				DistanceMeters: float64(s.Distance.Meters),
				Duration:       s.Duration,
				Start:          domain.GeoPoint{Lat: s.StartLocation.Lat, Lon: s.StartLocation.Lng},
				End:            domain.GeoPoint{Lat: s.EndLocation.Lat, Lon: s.EndLocation.Lng},
			})
		}
	}
	return d, nil
}

// observe records the call outcome and maps deadline errors.
func (p *Provider) observe(op string, err error) error {
	switch {
	case err == nil:
		metrics.ExternalProviderCalls.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ExternalProviderCalls.WithLabelValues(op, "timeout").Inc()
		return fmt.Errorf("%w: %s: %w", domain.ErrExternalProviderTimeout, op, err)
	case isZeroResults(err):
		metrics.ExternalProviderCalls.WithLabelValues(op, "empty").Inc()
		return err
	default:
		metrics.ExternalProviderCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("maps api error: %w", err)
	}
}

func isZeroResults(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ZERO_RESULTS")
}

func latLng(p domain.GeoPoint) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// travelMode maps a transport mode onto the closest Google travel mode.
// Informal modes have no Google equivalent and are routed as driving.
func travelMode(m domain.TransportMode) maps.Mode {
	switch m {
	case domain.ModeBus:
		return maps.TravelModeTransit
	case domain.ModeWalking:
		return maps.TravelModeWalking
	default:
		return maps.TravelModeDriving
	}
}

func stepMode(travel string, requested domain.TransportMode) domain.TransportMode {
	switch strings.ToUpper(travel) {
	case "WALKING":
		return domain.ModeWalking
	case "TRANSIT":
		return domain.ModeBus
	}
	if requested == "" || requested == domain.ModeWalking {
		return domain.ModeTaxi
	}
	return requested
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// StripHTML turns Google's HTML instructions into plain text.
func StripHTML(s string) string {
	s = strings.ReplaceAll(s, `<div`, ` <div`)
	return strings.Join(strings.Fields(htmlTag.ReplaceAllString(s, "")), " ")
}

func toGeocodeResults(results []maps.GeocodingResult) []ports.GeocodeResult {
	out := make([]ports.GeocodeResult, 0, len(results))
	for _, r := range results {
		g := ports.GeocodeResult{
			Coordinate:       domain.GeoPoint{Lat: r.Geometry.Location.Lat, Lon: r.Geometry.Location.Lng},
			FormattedAddress: r.FormattedAddress,
			PlaceTypes:       r.Types,
		}
		for _, c := range r.AddressComponents {
			for _, t := range c.Types {
				switch t {
				case "locality":
					g.City = c.LongName
				case "administrative_area_level_1":
					g.State = c.LongName
				case "country":
					g.Country = c.LongName
				}
			}
		}
		out = append(out, g)
	}
	return out
}
