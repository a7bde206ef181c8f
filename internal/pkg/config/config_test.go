package config_test

import (
	"strings"
	"testing"

	"github.com/korope-ng/korope/internal/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("korope-test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telemetry.ServiceName != "korope-test" {
		t.Errorf("service name = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Tracking.ArrivalRadiusMeters != 50 || cfg.Tracking.ApproachRadiusMeters != 300 {
		t.Errorf("tracking radii = %v/%v", cfg.Tracking.ArrivalRadiusMeters, cfg.Tracking.ApproachRadiusMeters)
	}
	if cfg.Routing.MaxDepth != 3 || cfg.Routing.MaxWalkMeters != 2000 {
		t.Errorf("routing = %+v", cfg.Routing)
	}
	if cfg.Maps.Timeout().Seconds() != 5 {
		t.Errorf("maps timeout = %v", cfg.Maps.Timeout())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KOROPE_SERVER_PORT", "9090")
	t.Setenv("KOROPE_FARE_CEILING", "75000")

	cfg, err := config.Load("korope-test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Fare.Ceiling != 75000 {
		t.Errorf("ceiling = %v, want 75000", cfg.Fare.Ceiling)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Setenv("KOROPE_SERVER_PORT", "0")
	t.Setenv("KOROPE_LOG_FORMAT", "xml")
	t.Setenv("KOROPE_TRACKING_ARRIVAL_RADIUS_METERS", "400")

	_, err := config.Load("korope-test")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "log.format", "tracking radii"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
