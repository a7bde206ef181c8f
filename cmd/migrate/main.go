package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korope-ng/korope/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down|status>")
	}

	cfg, err := config.Load("korope-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		log.Fatalf("create schema_migrations: %v", err)
	}

	versions, err := listVersions(migrationsDir)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}

	switch os.Args[1] {
	case "up":
		migrateUp(ctx, pool, versions, applied)
	case "down":
		migrateDown(ctx, pool, versions, applied)
	case "status":
		for _, v := range versions {
			state := "pending"
			if applied[v] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, v)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// listVersions returns migration names such as "002_core_tables", sorted.
func listVersions(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(files))
	for _, f := range files {
		versions = append(versions, strings.TrimSuffix(filepath.Base(f), ".up.sql"))
	}
	sort.Strings(versions)
	return versions, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

func migrateUp(ctx context.Context, pool *pgxpool.Pool, versions []string, applied map[string]bool) {
	n := 0
	for _, v := range versions {
		if applied[v] {
			continue
		}
		run(ctx, pool, v, ".up.sql", `INSERT INTO schema_migrations (version) VALUES ($1)`)
		fmt.Printf("OK  %s\n", v)
		n++
	}
	log.Printf("%d migrations applied", n)
}

// migrateDown reverts the most recently applied migration.
func migrateDown(ctx context.Context, pool *pgxpool.Pool, versions []string, applied map[string]bool) {
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if !applied[v] {
			continue
		}
		run(ctx, pool, v, ".down.sql", `DELETE FROM schema_migrations WHERE version = $1`)
		fmt.Printf("OK  %s reverted\n", v)
		return
	}
	log.Println("nothing to revert")
}

// run executes one migration file and records it in the same transaction.
func run(ctx context.Context, pool *pgxpool.Pool, version, suffix, record string) {
	path := filepath.Join(migrationsDir, version+suffix)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(data)); err != nil {
		log.Fatalf("exec %s: %v", path, err)
	}
	if _, err := tx.Exec(ctx, record, version); err != nil {
		log.Fatalf("record %s: %v", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit %s: %v", path, err)
	}
}
