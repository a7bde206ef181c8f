package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/korope-ng/korope/internal/adapters/postgres"
	"github.com/korope-ng/korope/internal/core/usecases"
	"github.com/korope-ng/korope/internal/pkg/config"
	"github.com/korope-ng/korope/internal/pkg/logging"
	"github.com/korope-ng/korope/internal/workflows"
)

func main() {
	cfg, err := config.Load("korope-reviewer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("korope-reviewer", cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	fares := usecases.NewFareEngine(postgres.NewFareRuleRepo(db), postgres.NewFareFeedbackRepo(db), nil, nil, usecases.DefaultFareOptions())

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    slog.Default(),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.FeedbackReviewWorkflow)
	w.RegisterActivity(&workflows.ReviewActivities{Fares: fares})

	slog.Info("fare feedback reviewer started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
