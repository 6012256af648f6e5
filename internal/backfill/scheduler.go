package backfill

import (
	"context"
	"time"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

// Scheduler re-runs a trailing window of the daily source. Periods already
// stored are skipped by the existence check, so overlapping windows are
// cheap.
type Scheduler struct {
	runner Runner
	cfg    config.ScheduleConfig
	now    func() time.Time
	log    *logger.Log
}

func NewScheduler(runner Runner, cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{runner: runner, cfg: cfg, now: time.Now, log: logger.GetLogger()}
}

// Window is the request of one scheduled run: the lookback days up to and
// including yesterday, whose archive file is complete.
func (s *Scheduler) Window() models.BackfillRequest {
	lookback := s.cfg.LookbackDays
	if lookback < 1 {
		lookback = 1
	}
	to := models.DayKey(s.now()).Start.AddDate(0, 0, -1)
	return models.BackfillRequest{
		From:   to.AddDate(0, 0, -(lookback - 1)),
		To:     to,
		Source: models.SourceAssetCtxs,
	}
}

// Start runs immediately and then at every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"interval":      interval.String(),
		"lookback_days": s.cfg.LookbackDays,
	})
	log.Info("starting backfill scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info("backfill scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	req := s.Window()
	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"from": req.From.Format(models.DateLayout),
		"to":   req.To.Format(models.DateLayout),
	})

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		log.WithError(err).Error("scheduled backfill failed")
		return
	}
	log.WithFields(logger.Fields{
		"run_id":        result.RunID,
		"total_ok":      result.TotalOK,
		"total_err":     result.TotalErr,
		"total_skipped": result.TotalSkipped,
		"rows_inserted": result.RowsInserted,
	}).Info("scheduled backfill finished")
}
