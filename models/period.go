package models

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the natural stepping unit of an archive source.
type Granularity int

const (
	Daily Granularity = iota
	Hourly
)

func (g Granularity) String() string {
	if g == Hourly {
		return "hourly"
	}
	return "daily"
}

const (
	DateLayout = "2006-01-02"
	HourLayout = "2006-01-02T15:00:00"
)

// PeriodKey identifies one unit of backfill work. Daily keys hold the UTC
// midnight of the date, hourly keys the top of the hour plus a ticker.
type PeriodKey struct {
	Granularity Granularity
	Start       time.Time
	Ticker      string
}

// DayKey returns the daily key covering t.
func DayKey(t time.Time) PeriodKey {
	t = t.UTC()
	return PeriodKey{
		Granularity: Daily,
		Start:       time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// HourKey returns the hourly key covering t for ticker.
func HourKey(t time.Time, ticker string) PeriodKey {
	return PeriodKey{
		Granularity: Hourly,
		Start:       t.UTC().Truncate(time.Hour),
		Ticker:      ticker,
	}
}

// End is the exclusive upper bound of the period window.
func (k PeriodKey) End() time.Time {
	if k.Granularity == Hourly {
		return k.Start.Add(time.Hour)
	}
	return k.Start.AddDate(0, 0, 1)
}

// Label is the period as it appears in a BackfillResult.
func (k PeriodKey) Label() string {
	if k.Granularity == Hourly {
		return k.Start.Format(HourLayout)
	}
	return k.Start.Format(DateLayout)
}

func (k PeriodKey) String() string {
	if k.Ticker == "" {
		return k.Label()
	}
	return fmt.Sprintf("%s/%s", k.Label(), k.Ticker)
}

// SourceKind selects the archive dataset a backfill runs against.
type SourceKind string

const (
	SourceAssetCtxs   SourceKind = "HyperliquidAssetCtxs"
	SourceL2Orderbook SourceKind = "HyperliquidL2Orderbook"
)

// ParseSourceKind accepts the canonical names case-insensitively plus the
// short archive prefixes.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case strings.ToLower(string(SourceAssetCtxs)), "asset_ctxs", "asset-ctxs":
		return SourceAssetCtxs, nil
	case strings.ToLower(string(SourceL2Orderbook)), "l2_book", "l2book", "l2-book":
		return SourceL2Orderbook, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Granularity reports how the source is stepped.
func (s SourceKind) Granularity() Granularity {
	if s == SourceL2Orderbook {
		return Hourly
	}
	return Daily
}
