package questdb

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kanekoshoyu/anysignal/config"
)

// PGQuerier runs queries over QuestDB's Postgres wire endpoint.
type PGQuerier struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// PGConnString renders the pgx URL for the configured PG endpoint.
func PGConnString(cfg config.QuestDBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.PGAddr,
		Path:   "/" + cfg.PGDatabase,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

func NewPGQuerier(ctx context.Context, cfg config.QuestDBConfig) (*PGQuerier, error) {
	poolCfg, err := pgxpool.ParseConfig(PGConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	// QuestDB's PG endpoint: no server-side statement cache.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PGQuerier{pool: pool, timeout: timeout}, nil
}

func (q *PGQuerier) Count(ctx context.Context, query string) (int64, error) {
	ctx, cancel := withTimeout(ctx, q.timeout)
	defer cancel()

	var n int64
	if err := q.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *PGQuerier) Exec(ctx context.Context, stmt string) error {
	ctx, cancel := withTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.pool.Exec(ctx, stmt)
	return err
}

func (q *PGQuerier) Close() {
	q.pool.Close()
}
