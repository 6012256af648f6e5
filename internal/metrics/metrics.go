// Registers:
//
//	#anysignal_backfill_periods_total{source,outcome}
//	#anysignal_rows_written_total{table}
//	#anysignal_flushes_total{table}
//	#anysignal_flush_bytes_total{table}
//	#anysignal_poll_errors_total{source}
//	#go_* and process_* system metrics
//
// The HTTP API exposes them on /metrics through Handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	backfillPeriods = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anysignal_backfill_periods_total",
			Help: "Backfill periods by final classification",
		},
		[]string{"source", "outcome"},
	)
	rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anysignal_rows_written_total",
			Help: "Wire records flushed to the store",
		},
		[]string{"table"},
	)
	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anysignal_flushes_total",
			Help: "Store flush calls",
		},
		[]string{"table"},
	)
	flushBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anysignal_flush_bytes_total",
			Help: "Estimated line protocol bytes flushed",
		},
		[]string{"table"},
	)
	pollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anysignal_poll_errors_total",
			Help: "Failed polls of periodic sources",
		},
		[]string{"source"},
	)
)

// Init registers the collectors with the service registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			backfillPeriods,
			rowsWritten,
			flushes,
			flushBytes,
			pollErrors,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the service registry.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObservePeriod(source, outcome string) {
	backfillPeriods.WithLabelValues(source, outcome).Inc()
}

func ObserveFlush(table string, records, bytes int) {
	flushes.WithLabelValues(table).Inc()
	rowsWritten.WithLabelValues(table).Add(float64(records))
	flushBytes.WithLabelValues(table).Add(float64(bytes))
}

func IncPollError(source string) {
	pollErrors.WithLabelValues(source).Inc()
}
