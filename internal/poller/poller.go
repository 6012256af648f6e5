// Package poller drives periodic signal sources into the batch loader.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kanekoshoyu/anysignal/internal/metrics"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/writer"
)

// Source is a single endpoint polled at a fixed interval.
type Source interface {
	ID() string
	Interval() time.Duration
	Poll(ctx context.Context) (writer.Rows, error)
}

type Loader interface {
	Load(ctx context.Context, rows writer.Rows) (int, error)
}

var (
	registryMu sync.Mutex
	registry   []Source
)

// Register adds src to the sources started by the poller runner.
func Register(src Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, src)
}

// Registered returns the registered sources in registration order.
func Registered() []Source {
	registryMu.Lock()
	defer registryMu.Unlock()
	return append([]Source(nil), registry...)
}

// Run polls src every Interval until ctx is done. A failed poll or load is
// logged and counted; the loop keeps going.
func Run(ctx context.Context, src Source, loader Loader) error {
	interval := src.Interval()
	if interval <= 0 {
		interval = time.Minute
	}
	log := logger.GetLogger().WithComponent("poller").WithFields(logger.Fields{
		"source":   src.ID(),
		"interval": interval.String(),
	})
	log.Info("starting poller")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return nil
		case <-ticker.C:
			pollOnce(ctx, src, loader, log)
		}
	}
}

func pollOnce(ctx context.Context, src Source, loader Loader, log *logger.Entry) {
	rows, err := src.Poll(ctx)
	if err != nil {
		metrics.IncPollError(src.ID())
		log.WithError(err).Warn("poll failed")
		return
	}
	if rows == nil || rows.Len() == 0 {
		return
	}
	n, err := loader.Load(ctx, rows)
	if err != nil {
		metrics.IncPollError(src.ID())
		log.WithError(err).WithFields(logger.Fields{"written": n}).Warn("load failed")
		return
	}
	log.WithFields(logger.Fields{"records": n}).Debug("poll loaded")
}

// RunAll runs every source on its own goroutine until ctx is done.
func RunAll(ctx context.Context, loader Loader, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error { return Run(ctx, src, loader) })
	}
	return g.Wait()
}
