// Command ingestor seeds stops, segments, routes and fare rules from a
// JSON manifest, given as a file path or an http(s) URL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/korope-ng/korope/internal/adapters/postgres"
	"github.com/korope-ng/korope/internal/core/usecases"
	"github.com/korope-ng/korope/internal/pkg/config"
	"github.com/korope-ng/korope/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("korope-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("korope-ingestor", cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}

	manifest, err := loadManifest(ctx, manifestPath)
	if err != nil {
		log.Fatalf("manifest: %v", err)
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), 8)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	slog.Info("ingesting manifest", "source", manifest.Source,
		"locations", len(manifest.Locations), "segments", len(manifest.Segments),
		"routes", len(manifest.Routes), "fare_rules", len(manifest.FareRules))

	in := &Ingestor{
		Locations:   postgres.NewLocationRepo(db),
		Segments:    postgres.NewSegmentRepo(db),
		Routes:      postgres.NewRouteRepo(db),
		Rules:       usecases.NewFareEngine(postgres.NewFareRuleRepo(db), postgres.NewFareFeedbackRepo(db), nil, nil, usecases.DefaultFareOptions()),
		Concurrency: 4,
		SpeedKmh:    cfg.Tracking.AverageSpeedKmh,
	}
	if _, err := in.Run(ctx, manifest); err != nil {
		log.Fatalf("ingest: %v", err)
	}
	slog.Info("ingestion complete")
}

func loadManifest(ctx context.Context, path string) (*Manifest, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		data, err = download(ctx, path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
