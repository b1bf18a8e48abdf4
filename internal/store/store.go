// Package store persists workflow snapshots and knowledge entries in
// PostgreSQL. Persistence is advisory: the orchestration engine keeps
// running when the database is unavailable.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pgx pool for the given DSN and verifies the database is
// reachable before returning.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	logger.Info("PostgreSQL connected", zap.String("database", cfg.ConnConfig.Database))
	return &Store{db: pool, logger: logger}, nil
}

// Migrate applies every pending .up.sql file under dir in lexical order.
// Each file runs as a single Exec; statements within a file share fate.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	files, err := listMigrations(dir)
	if err != nil {
		return err
	}
	for _, name := range files {
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	s.logger.Info("Migrations applied", zap.Int("count", len(files)))
	return nil
}

func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
