package googlemaps_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/korope-ng/korope/internal/adapters/googlemaps"
	"github.com/korope-ng/korope/internal/core/domain"
)

const geocodeBody = `{
  "status": "OK",
  "results": [{
    "formatted_address": "Yaba Bus Stop, Herbert Macaulay Way, Lagos, Nigeria",
    "geometry": {"location": {"lat": 6.5095, "lng": 3.3711}},
    "types": ["bus_station", "transit_station"],
    "address_components": [
      {"long_name": "Lagos", "short_name": "Lagos", "types": ["locality", "political"]},
      {"long_name": "Lagos", "short_name": "LA", "types": ["administrative_area_level_1", "political"]},
      {"long_name": "Nigeria", "short_name": "NG", "types": ["country", "political"]}
    ]
  }]
}`

const directionsBody = `{
  "status": "OK",
  "routes": [{
    "summary": "Herbert Macaulay Way",
    "fare": {"currency": "NGN", "value": 300, "text": "NGN 300"},
    "legs": [{
      "distance": {"value": 3200, "text": "3.2 km"},
      "duration": {"value": 900, "text": "15 mins"},
      "steps": [
        {
          "html_instructions": "Walk to <b>Yaba</b> bus stop",
          "distance": {"value": 200, "text": "0.2 km"},
          "duration": {"value": 180, "text": "3 mins"},
          "start_location": {"lat": 6.5, "lng": 3.37},
          "end_location": {"lat": 6.5018, "lng": 3.37},
          "travel_mode": "WALKING"
        },
        {
          "html_instructions": "Bus towards <b>Sabo</b><div style=\"font-size:0.9em\">Alight at Sabo</div>",
          "distance": {"value": 3000, "text": "3.0 km"},
          "duration": {"value": 720, "text": "12 mins"},
          "start_location": {"lat": 6.5018, "lng": 3.37},
          "end_location": {"lat": 6.529, "lng": 3.373},
          "travel_mode": "TRANSIT"
        }
      ]
    }]
  }]
}`

func newProvider(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *googlemaps.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := googlemaps.New(googlemaps.Options{
		APIKey:  "AIza-test",
		BaseURL: srv.URL,
		Region:  "ng",
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestGeocode(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/geocode/json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("address") != "Yaba bus stop" {
			t.Errorf("address = %q", r.URL.Query().Get("address"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geocodeBody))
	}, time.Second)

	results, err := p.Geocode(context.Background(), "Yaba bus stop")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Coordinate.Lat != 6.5095 || r.Coordinate.Lon != 3.3711 {
		t.Errorf("coordinate = %+v", r.Coordinate)
	}
	if r.City != "Lagos" || r.State != "Lagos" || r.Country != "Nigeria" {
		t.Errorf("components = %q/%q/%q", r.City, r.State, r.Country)
	}
	if len(r.PlaceTypes) == 0 || r.PlaceTypes[0] != "bus_station" {
		t.Errorf("types = %v", r.PlaceTypes)
	}
}

func TestReverseGeocodeZeroResults(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latlng") == "" {
			t.Error("latlng not sent")
		}
		_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}, time.Second)

	results, err := p.ReverseGeocode(context.Background(), domain.GeoPoint{Lat: 6.5, Lon: 3.37})
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestGetDirections(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("mode"); got != "transit" {
			t.Errorf("mode = %q, want transit", got)
		}
		_, _ = w.Write([]byte(directionsBody))
	}, time.Second)

	d, err := p.GetDirections(context.Background(),
		domain.GeoPoint{Lat: 6.5, Lon: 3.37}, domain.GeoPoint{Lat: 6.529, Lon: 3.373}, domain.ModeBus)
	if err != nil {
		t.Fatalf("GetDirections: %v", err)
	}
	if d.DistanceMeters != 3200 || d.Duration != 15*time.Minute {
		t.Errorf("totals = %v m, %v", d.DistanceMeters, d.Duration)
	}
	if d.Fare == nil || *d.Fare != 300 {
		t.Errorf("fare = %v", d.Fare)
	}
	if len(d.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(d.Steps))
	}
	if d.Steps[0].Mode != domain.ModeWalking || d.Steps[1].Mode != domain.ModeBus {
		t.Errorf("modes = %s, %s", d.Steps[0].Mode, d.Steps[1].Mode)
	}
	if d.Steps[1].Instruction != "Bus towards Sabo Alight at Sabo" {
		t.Errorf("instruction = %q", d.Steps[1].Instruction)
	}
}

func TestGetDirectionsNoRoute(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "routes": []}`))
	}, time.Second)

	_, err := p.GetDirections(context.Background(),
		domain.GeoPoint{Lat: 6.5, Lon: 3.37}, domain.GeoPoint{Lat: 6.529, Lon: 3.373}, domain.ModeKeke)
	if !errors.Is(err, domain.ErrNoRouteFound) {
		t.Fatalf("err = %v, want ErrNoRouteFound", err)
	}
}

func TestGetDirectionsTimeout(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 50*time.Millisecond)

	_, err := p.GetDirections(context.Background(),
		domain.GeoPoint{Lat: 6.5, Lon: 3.37}, domain.GeoPoint{Lat: 6.529, Lon: 3.373}, domain.ModeTaxi)
	if !errors.Is(err, domain.ErrExternalProviderTimeout) {
		t.Fatalf("err = %v, want ErrExternalProviderTimeout", err)
	}
}

func TestStripHTML(t *testing.T) {
	got := googlemaps.StripHTML(`Turn <b>left</b> onto <b>Ikorodu Rd</b>`)
	if got != "Turn left onto Ikorodu Rd" {
		t.Errorf("StripHTML = %q", got)
	}
}
