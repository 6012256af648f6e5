// Package backfill walks a date range over one archive source and loads every
// period that is not stored yet.
package backfill

import (
	"context"

	"github.com/kanekoshoyu/anysignal/models"
	"github.com/kanekoshoyu/anysignal/processor"
	"github.com/kanekoshoyu/anysignal/reader"
	"github.com/kanekoshoyu/anysignal/writer"
)

// Source is an archive dataset the Orchestrator can backfill.
type Source interface {
	ID() models.SourceKind
	Granularity() models.Granularity
	// Exists never fails; an unanswerable check reports false.
	Exists(ctx context.Context, key models.PeriodKey) bool
	// Produce fetches, decompresses and parses the archive object for key.
	Produce(ctx context.Context, key models.PeriodKey) (writer.Rows, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type ExistenceChecker interface {
	Exists(ctx context.Context, key models.PeriodKey) bool
}

// archiveText downloads object and decodes it with the encoding of the
// vintage covering period.
func archiveText(ctx context.Context, f Fetcher, v reader.Vintage, object string, period models.PeriodKey) (string, error) {
	raw, err := f.Fetch(ctx, object)
	if err != nil {
		return "", err
	}
	return reader.DecompressLimit(raw, v.EncodingFor(period.Start), v.MaxBytes)
}

// AssetCtxsSource is the daily asset context archive.
type AssetCtxsSource struct {
	fetcher Fetcher
	vintage reader.Vintage
	checker ExistenceChecker
}

func NewAssetCtxsSource(fetcher Fetcher, vintage reader.Vintage, checker ExistenceChecker) *AssetCtxsSource {
	return &AssetCtxsSource{fetcher: fetcher, vintage: vintage, checker: checker}
}

func (s *AssetCtxsSource) ID() models.SourceKind           { return models.SourceAssetCtxs }
func (s *AssetCtxsSource) Granularity() models.Granularity { return models.Daily }

func (s *AssetCtxsSource) Exists(ctx context.Context, key models.PeriodKey) bool {
	return s.checker != nil && s.checker.Exists(ctx, key)
}

func (s *AssetCtxsSource) Produce(ctx context.Context, key models.PeriodKey) (writer.Rows, error) {
	text, err := archiveText(ctx, s.fetcher, s.vintage, reader.AssetCtxsKey(key.Start), key)
	if err != nil {
		return nil, err
	}
	rows, err := processor.ParseAssetCtxs(text)
	if err != nil {
		return nil, err
	}
	return writer.AssetContexts(rows), nil
}

// L2BookSource is the hourly per-ticker order book archive.
type L2BookSource struct {
	fetcher Fetcher
	vintage reader.Vintage
	checker ExistenceChecker
}

func NewL2BookSource(fetcher Fetcher, vintage reader.Vintage, checker ExistenceChecker) *L2BookSource {
	return &L2BookSource{fetcher: fetcher, vintage: vintage, checker: checker}
}

func (s *L2BookSource) ID() models.SourceKind           { return models.SourceL2Orderbook }
func (s *L2BookSource) Granularity() models.Granularity { return models.Hourly }

func (s *L2BookSource) Exists(ctx context.Context, key models.PeriodKey) bool {
	return s.checker != nil && s.checker.Exists(ctx, key)
}

func (s *L2BookSource) Produce(ctx context.Context, key models.PeriodKey) (writer.Rows, error) {
	text, err := archiveText(ctx, s.fetcher, s.vintage, reader.L2BookKey(key.Start, key.Ticker), key)
	if err != nil {
		return nil, err
	}
	snaps, err := processor.ParseL2Book(text)
	if err != nil {
		return nil, err
	}
	return writer.L2Snapshots(snaps), nil
}
