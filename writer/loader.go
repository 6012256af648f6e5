package writer

import (
	"context"
	"time"

	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/internal/metrics"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

// DefaultFlushThreshold keeps a chunk well under QuestDB's 100 MiB HTTP
// buffer cap.
const DefaultFlushThreshold = 64 * 1024 * 1024

// Sink persists one chunk of wire records. A chunk that Flush accepted is
// durable regardless of what happens to later chunks.
type Sink interface {
	Flush(ctx context.Context, records []models.Record) error
	Close(ctx context.Context) error
}

// Loader writes parsed rows through a Sink in chunks bounded by an estimated
// byte size.
type Loader struct {
	sink      Sink
	threshold int
	log       *logger.Log
}

func NewLoader(sink Sink, threshold int) *Loader {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Loader{sink: sink, threshold: threshold, log: logger.GetLogger()}
}

// Load fans every row out and flushes whenever the buffered size reaches the
// threshold, then once more for the remainder. It returns the number of wire
// records the sink accepted, including those flushed before a failure.
func (l *Loader) Load(ctx context.Context, rows Rows) (int, error) {
	table := rows.Table()
	log := l.log.WithComponent("loader").WithFields(logger.Fields{"table": table})
	start := time.Now()

	var (
		buf     []models.Record
		size    int
		written int
		chunks  int
	)
	emit := func(r models.Record) {
		buf = append(buf, r)
		size += r.Size()
	}

	for i := 0; i < rows.Len(); i++ {
		rows.Fanout(i, emit)
		if size < l.threshold {
			continue
		}
		if err := l.flush(ctx, table, buf, size); err != nil {
			return written, err
		}
		written += len(buf)
		chunks++
		buf = make([]models.Record, 0, len(buf))
		size = 0
	}

	if len(buf) > 0 {
		if err := l.flush(ctx, table, buf, size); err != nil {
			return written, err
		}
		written += len(buf)
		chunks++
	}

	logger.LogPerformanceEntry(log, "loader", "load", time.Since(start), logger.Fields{
		"source_rows": rows.Len(),
		"records":     written,
		"chunks":      chunks,
	})
	logger.LogDataFlowEntry(log, "archive", table, written, "wire_record")
	return written, nil
}

func (l *Loader) flush(ctx context.Context, table string, records []models.Record, size int) error {
	if err := l.sink.Flush(ctx, records); err != nil {
		return apperr.Storef(err, "failed to flush %d records to %s", len(records), table)
	}
	metrics.ObserveFlush(table, len(records), size)
	l.log.WithComponent("loader").WithFields(logger.Fields{
		"table":   table,
		"records": len(records),
		"bytes":   size,
	}).Debug("flushed chunk")
	return nil
}

// Close releases the underlying sink.
func (l *Loader) Close(ctx context.Context) error {
	return l.sink.Close(ctx)
}
