// Package pgstore runs collection statements on a PostgreSQL/PostGIS pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

type Config struct {
	URL        string
	MaxConns   int32
	Retries    int
	RetryDelay time.Duration
}

// Store checks out one pooled connection per statement.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Querier = (*Store)(nil)

// Connect builds the pool and waits until the database answers, retrying
// up to cfg.Retries times.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := withRetry(ctx, cfg.Retries, cfg.RetryDelay, log, func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("connected to database", "max_conns", pcfg.MaxConns)
	return &Store{pool: pool}, nil
}

// ErrUnableToConnect is returned once every attempt has failed.
var ErrUnableToConnect = errors.New("unable to connect")

func withRetry[T any](ctx context.Context, attempts int, delay time.Duration, log *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	var last error
	for i := 1; i <= attempts; i++ {
		log.Info("trying to connect to database", "attempt", i, "retries_left", attempts-i)
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if i == attempts {
			break
		}
		log.Warn("database not ready, retrying", "err", err, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("%w: %w", ErrUnableToConnect, ctx.Err())
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrUnableToConnect, attempts, last)
}

func (s *Store) Query(ctx context.Context, sql string, args ...any) ([]store.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore query: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("pgstore collect: %w", err)
	}
	out := make([]store.Row, len(maps))
	for i, m := range maps {
		out[i] = store.Row(m)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}
