package backfill

import (
	"context"
	"time"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/internal/questdb"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
	"github.com/kanekoshoyu/anysignal/reader"
	"github.com/kanekoshoyu/anysignal/writer"
)

// Runner executes one backfill invocation.
type Runner interface {
	Run(ctx context.Context, req models.BackfillRequest) (*models.BackfillResult, error)
}

// InitError means the invocation could not be set up; no period ran.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

// Factory wires a fresh fetcher, sink, checker and loader for every
// invocation so concurrent requests never share a buffer.
type Factory struct {
	cfg *config.Config
	log *logger.Log
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg, log: logger.GetLogger()}
}

// Run validates req, builds the pipeline for its source and runs it.
func (f *Factory) Run(ctx context.Context, req models.BackfillRequest) (*models.BackfillResult, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}
	orch, release, err := f.Build(ctx, req.Source)
	if err != nil {
		f.log.WithComponent("backfill").WithError(err).WithFields(logger.Fields{
			"source": string(req.Source),
		}).Error("failed to initialise backfill")
		return nil, &InitError{Err: err}
	}
	defer release()
	return orch.Run(ctx, req)
}

// archiveName is the key of a source under archive.sources.
func archiveName(kind models.SourceKind) string {
	if kind == models.SourceL2Orderbook {
		return "l2_book"
	}
	return "asset_ctxs"
}

// Build returns an orchestrator for kind and a release func closing the
// store connections it opened.
func (f *Factory) Build(ctx context.Context, kind models.SourceKind) (*Orchestrator, func(), error) {
	vintage, err := reader.VintageFromConfig(f.cfg.Archive.Sources[archiveName(kind)])
	if err != nil {
		return nil, nil, apperr.Configurationf(err, "invalid encoding rules for %s", kind)
	}
	vintage.MaxBytes = f.cfg.Archive.MaxDecompressedBytes
	fetcher, err := reader.NewArchiveFetcher(ctx, f.cfg.Archive)
	if err != nil {
		return nil, nil, err
	}
	loader, checker, release, err := f.loader(ctx)
	if err != nil {
		return nil, nil, err
	}

	var source Source
	switch kind {
	case models.SourceL2Orderbook:
		source = NewL2BookSource(fetcher, vintage, checker)
	default:
		source = NewAssetCtxsSource(fetcher, vintage, checker)
	}
	return NewOrchestrator(source, loader, OptionsFromConfig(f.cfg.Backfill)), release, nil
}

// Loader returns a batch loader over the configured store for callers that
// bring their own rows, and a release func closing it.
// Loader opens the configured store for callers outside a backfill run. The
// returned func flushes and closes it.
func (f *Factory) Loader(ctx context.Context) (*writer.Loader, func(), error) {
	loader, _, release, err := f.loader(ctx)
	return loader, release, err
}

func (f *Factory) loader(ctx context.Context) (*writer.Loader, *questdb.Checker, func(), error) {
	sink, checker, err := f.store(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	loader := writer.NewLoader(sink, f.cfg.Store.QuestDB.FlushThresholdBytes)
	release := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := loader.Close(closeCtx); err != nil {
			f.log.WithComponent("backfill").WithError(err).Warn("failed to close sink")
		}
		checker.Close()
	}
	return loader, checker, release, nil
}

func (f *Factory) store(ctx context.Context) (writer.Sink, *questdb.Checker, error) {
	switch f.cfg.Store.Kind {
	case config.StoreParquet:
		var putter writer.ObjectPutter
		if f.cfg.Store.Parquet.S3Bucket != "" {
			client, err := reader.NewS3Client(ctx, f.cfg.Archive)
			if err != nil {
				return nil, nil, err
			}
			putter = client
		}
		sink := writer.NewParquetSink(f.cfg.Store.Parquet, putter, f.cfg.Anysignal.Version)
		return sink, questdb.NewChecker(questdb.Never{}), nil
	default:
		qcfg := f.cfg.Store.QuestDB
		sink, err := writer.NewQuestDBSink(ctx, qcfg)
		if err != nil {
			return nil, nil, apperr.Connectionf(err, "failed to connect to QuestDB at %s", qcfg.Addr)
		}
		var querier questdb.Querier
		if qcfg.QueryProtocol == config.QueryPGWire {
			pg, err := questdb.NewPGQuerier(ctx, qcfg)
			if err != nil {
				_ = sink.Close(ctx)
				return nil, nil, apperr.Connectionf(err, "failed to connect to QuestDB at %s", qcfg.PGAddr)
			}
			querier = pg
		} else {
			querier = questdb.NewHTTPQuerier(qcfg, nil)
		}
		if err := questdb.EnsureTables(ctx, querier); err != nil {
			querier.Close()
			_ = sink.Close(ctx)
			return nil, nil, apperr.Connectionf(err, "failed to prepare QuestDB tables at %s", qcfg.Addr)
		}
		return sink, questdb.NewChecker(querier), nil
	}
}
