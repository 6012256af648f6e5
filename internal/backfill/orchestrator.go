package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/internal/metrics"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
	"github.com/kanekoshoyu/anysignal/writer"
)

// RowLoader writes parsed rows and reports how many wire records landed.
type RowLoader interface {
	Load(ctx context.Context, rows writer.Rows) (int, error)
}

// Options are the per-period policies of an Orchestrator. Zero values mean
// no timeout and no retry.
type Options struct {
	PeriodTimeout time.Duration
	Retry         config.RetryConfig
}

// OptionsFromConfig reads the backfill policies.
func OptionsFromConfig(cfg config.BackfillConfig) Options {
	return Options{PeriodTimeout: cfg.PeriodTimeout, Retry: cfg.Retry}
}

// Orchestrator runs one request against one source, strictly period after
// period. A failing period is recorded and never stops the walk.
type Orchestrator struct {
	source Source
	loader RowLoader
	opts   Options
	log    *logger.Log
}

func NewOrchestrator(source Source, loader RowLoader, opts Options) *Orchestrator {
	return &Orchestrator{source: source, loader: loader, opts: opts, log: logger.GetLogger()}
}

// Run classifies every step of req as succeeded, failed or skipped. The
// returned error is either a *ClientError raised before any period ran or
// the context error when the walk was cancelled; in the latter case the
// partial result is returned too.
func (o *Orchestrator) Run(ctx context.Context, req models.BackfillRequest) (*models.BackfillResult, error) {
	req.Source = o.source.ID()
	if err := Validate(&req); err != nil {
		return nil, err
	}

	result := models.NewBackfillResult(uuid.NewString())
	steps := Steps(req)
	source := string(o.source.ID())
	log := o.log.WithComponent("backfill").WithFields(logger.Fields{
		"run_id": result.RunID,
		"source": source,
	})
	log.WithFields(logger.Fields{
		"from":    req.From.UTC().Format(time.RFC3339),
		"to":      req.To.UTC().Format(time.RFC3339),
		"periods": len(steps),
		"tickers": strings.Join(req.Tickers, ","),
		"force":   req.Force,
	}).Info("backfill started")

	start := time.Now()
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("backfill cancelled")
			return result, err
		}
		outcome := o.runStep(ctx, step, req.Force, result)
		metrics.ObservePeriod(source, outcome)
		log.WithFields(logger.Fields{"period": step.Label, "outcome": outcome}).Debug("period done")
	}

	logger.LogPerformanceEntry(log, "backfill", "run", time.Since(start), logger.Fields{
		"total_ok":      result.TotalOK,
		"total_err":     result.TotalErr,
		"total_skipped": result.TotalSkipped,
		"rows_inserted": result.RowsInserted,
	})
	metrics.EmitMetric(o.log, "backfill", "rows_inserted", result.RowsInserted, logger.Fields{"source": source})
	metrics.EmitMetric(o.log, "backfill", "periods_failed", result.TotalErr, logger.Fields{"source": source})
	return result, nil
}

// runStep checks, loads and records one step. An hourly step is skipped only
// when every ticker is already stored and fails when any ticker failed; rows
// of the tickers that fully loaded are counted either way.
func (o *Orchestrator) runStep(ctx context.Context, step Step, force bool, result *models.BackfillResult) string {
	var (
		skipped int
		rows    int
		errs    []string
	)
	for _, key := range step.Keys {
		if !force && o.source.Exists(ctx, key) {
			skipped++
			continue
		}
		n, err := o.loadPeriod(ctx, key)
		rows += n
		if err != nil {
			o.log.WithComponent("backfill").WithError(err).WithFields(logger.Fields{
				"period": key.String(),
				"kind":   apperr.KindOf(err).String(),
			}).Warn("period failed")
			if key.Ticker != "" {
				errs = append(errs, fmt.Sprintf("ticker=%s: %v", key.Ticker, err))
			} else {
				errs = append(errs, err.Error())
			}
		}
	}

	switch {
	case skipped == len(step.Keys):
		result.RecordSkipped(step.Label)
		return metrics.OutcomeSkipped
	case len(errs) > 0:
		result.RecordFailed(failureMessage(o.source.Granularity(), step.Label, errs), rows)
		return metrics.OutcomeFailed
	default:
		result.RecordSucceeded(step.Label, rows)
		return metrics.OutcomeSucceeded
	}
}

func failureMessage(g models.Granularity, label string, errs []string) string {
	if g == models.Hourly {
		return fmt.Sprintf("%s: %d error(s): %s", label, len(errs), strings.Join(errs, "; "))
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(errs, "; "))
}

// loadPeriod produces and loads one key, applying the period timeout and the
// retry policy. It returns the rows the source reports for a fully loaded
// key and 0 on failure. Only fetch and connection failures are retried, and
// never after a chunk has been written.
func (o *Orchestrator) loadPeriod(ctx context.Context, key models.PeriodKey) (int, error) {
	written, count := 0, 0
	attempt := func() error {
		pctx := ctx
		if o.opts.PeriodTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, o.opts.PeriodTimeout)
			defer cancel()
		}

		rows, err := o.source.Produce(pctx, key)
		if err != nil {
			return retryable(err, written)
		}
		n, err := o.loader.Load(pctx, rows)
		written += n
		if err != nil {
			return retryable(err, written)
		}
		count = rows.Count()
		return nil
	}

	var err error
	if o.opts.Retry.MaxRetries <= 0 {
		err = unwrapPermanent(attempt())
	} else {
		err = backoff.RetryNotify(attempt, o.backOff(ctx), func(err error, wait time.Duration) {
			o.log.WithComponent("backfill").WithError(err).WithFields(logger.Fields{
				"period": key.String(),
				"wait":   wait.String(),
			}).Warn("retrying period")
		})
	}
	if err != nil {
		if written > 0 {
			o.log.WithComponent("backfill").WithFields(logger.Fields{
				"period":  key.String(),
				"written": written,
			}).Warn("period failed after partial write")
		}
		return 0, err
	}
	return count, nil
}

func (o *Orchestrator) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if o.opts.Retry.BaseDelay > 0 {
		exp.InitialInterval = o.opts.Retry.BaseDelay
	}
	if o.opts.Retry.MaxDelay > 0 {
		exp.MaxInterval = o.opts.Retry.MaxDelay
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(o.opts.Retry.MaxRetries)), ctx)
}

func retryable(err error, written int) error {
	if written > 0 {
		return backoff.Permanent(err)
	}
	switch apperr.KindOf(err) {
	case apperr.KindFetch, apperr.KindConnection:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*backoff.PermanentError); ok {
		return p.Err
	}
	return err
}
