// Package questdb answers "is this period already loaded?" against QuestDB.
package questdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

const (
	AssetCtxsTable = "market_data"
	L2Table        = "l2_snapshot"
	ArchiveSource  = "HYPERLIQUID_S3"

	// Designated timestamp columns. ILP writes land in whichever column the
	// table designates, so the names only matter to queries.
	AssetCtxsTimestamp = "timestamp"
	L2Timestamp        = "ts"

	queryTimeLayout = "2006-01-02T15:04:05Z"
)

// Querier runs a single-value count query or a statement.
type Querier interface {
	Count(ctx context.Context, query string) (int64, error)
	Exec(ctx context.Context, stmt string) error
	Close()
}

// TableDDL creates the tables the sinks write to, designating the timestamp
// columns ExistenceQuery filters on.
var TableDDL = []string{
	"CREATE TABLE IF NOT EXISTS " + AssetCtxsTable + " (category SYMBOL, ticker SYMBOL, source SYMBOL, value DOUBLE, " +
		AssetCtxsTimestamp + " TIMESTAMP) timestamp(" + AssetCtxsTimestamp + ") PARTITION BY DAY WAL",
	"CREATE TABLE IF NOT EXISTS " + L2Table + " (ticker SYMBOL, side SYMBOL, level LONG, price DOUBLE, quantity DOUBLE, " +
		L2Timestamp + " TIMESTAMP) timestamp(" + L2Timestamp + ") PARTITION BY HOUR WAL",
}

// EnsureTables runs TableDDL. Existing tables are left untouched.
func EnsureTables(ctx context.Context, q Querier) error {
	for _, stmt := range TableDDL {
		if err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Checker is advisory: every failure resolves to "not present" so a backfill
// rewrites a period rather than leaving a gap.
type Checker struct {
	querier Querier
	log     *logger.Log
}

func NewChecker(q Querier) *Checker {
	return &Checker{querier: q, log: logger.GetLogger()}
}

// Exists reports whether rows for key are already stored.
func (c *Checker) Exists(ctx context.Context, key models.PeriodKey) bool {
	if c == nil || c.querier == nil {
		return false
	}
	query := ExistenceQuery(key)
	n, err := c.querier.Count(ctx, query)
	if err != nil {
		c.log.WithComponent("existence_checker").WithError(err).WithFields(logger.Fields{
			"period": key.String(),
		}).Debug("existence query failed; treating period as missing")
		return false
	}
	return n > 0
}

func (c *Checker) Close() {
	if c != nil && c.querier != nil {
		c.querier.Close()
	}
}

// ExistenceQuery builds the count query scoped to the key's time window.
func ExistenceQuery(key models.PeriodKey) string {
	from := key.Start.UTC().Format(queryTimeLayout)
	to := key.End().UTC().Format(queryTimeLayout)
	if key.Granularity == models.Hourly {
		return fmt.Sprintf(
			"SELECT count() FROM %s WHERE ticker = '%s' AND %s >= '%s' AND %s < '%s'",
			L2Table, quote(key.Ticker), L2Timestamp, from, L2Timestamp, to,
		)
	}
	return fmt.Sprintf(
		"SELECT count() FROM %s WHERE source = '%s' AND %s >= '%s' AND %s < '%s'",
		AssetCtxsTable, ArchiveSource, AssetCtxsTimestamp, from, AssetCtxsTimestamp, to,
	)
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Never is a Querier for sinks that cannot be queried; every period looks
// missing.
type Never struct{}

func (Never) Count(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("store does not support existence queries")
}

func (Never) Exec(context.Context, string) error { return nil }

func (Never) Close() {}

// withTimeout bounds a single existence query when the caller has no deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
