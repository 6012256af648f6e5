package metrics

import (
	"sync"
	"time"

	"github.com/kanekoshoyu/anysignal/logger"
)

// Metric represents a structured metric event emitted within the application.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes structured metric events for downstream processing.
type MetricHandler func(Metric)

// MetricHandlerID uniquely identifies a registered metric handler.
type MetricHandlerID uint64

var (
	metricHandlersMu    sync.RWMutex
	metricHandlers      = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID MetricHandlerID
)

// RegisterMetricHandler registers a handler that will receive every emitted
// metric. A zero identifier is returned for a nil handler.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	metricHandlersMu.Lock()
	defer metricHandlersMu.Unlock()

	nextMetricHandlerID++
	id := nextMetricHandlerID
	metricHandlers[id] = handler
	return id
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	metricHandlersMu.Lock()
	delete(metricHandlers, id)
	metricHandlersMu.Unlock()
}

// EmitMetric logs a metric event and hands it to every registered handler
// (CloudWatch when enabled).
func EmitMetric(log *logger.Log, component, name string, value interface{}, fields logger.Fields) {
	if name == "" {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}

	logFields := make(logger.Fields, len(fields)+2)
	for k, v := range fields {
		logFields[k] = v
	}
	logFields["metric"] = name
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	dispatchMetric(Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      "counter",
		Fields:    fields,
	})
}

func dispatchMetric(metric Metric) {
	metricHandlersMu.RLock()
	handlers := make([]MetricHandler, 0, len(metricHandlers))
	for _, handler := range metricHandlers {
		handlers = append(handlers, handler)
	}
	metricHandlersMu.RUnlock()

	for _, handler := range handlers {
		handler(metric)
	}
}
