package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"DTokenSale/internal/config"
	"DTokenSale/internal/db"
	"DTokenSale/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or toml)")
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger, logCloser := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer logCloser.Close()

	if err := run(context.Background(), cfg.DB.DSN, *dir, logger); err != nil {
		logger.Error("migrate failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, dsn, dir string, logger *slog.Logger) error {
	if dsn == "" {
		return errors.New("db.dsn is required")
	}
	pool, err := db.Connect(ctx, dsn, 2)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := ensureSchemaTable(ctx, pool); err != nil {
		return err
	}
	files, err := listSQLFiles(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		name := filepath.Base(file)
		applied, err := isApplied(ctx, pool, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := applyMigration(ctx, pool, file, name); err != nil {
			return err
		}
		logger.Info("applied migration", slog.String("file", name))
	}
	return nil
}

func ensureSchemaTable(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *db.Pool, name string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// applyMigration runs the file and records it in one transaction.
func applyMigration(ctx context.Context, pool *db.Pool, file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if strings.TrimSpace(string(data)) != "" {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
		return err
	})
}
