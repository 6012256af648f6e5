package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type flowStat struct {
	batches int64
	records int64
}

var (
	warns  sync.Map // component -> *int64
	errs   sync.Map // component -> *int64
	flows  sync.Map // "source->destination" -> *flowStat
	loaded int64
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warns, component) }
func recordError(component string) { bump(&errs, component) }

func recordFlow(source, destination string, records int) {
	v, _ := flows.LoadOrStore(source+"->"+destination, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.batches, 1)
	atomic.AddInt64(&fs.records, int64(records))
	atomic.AddInt64(&loaded, int64(records))
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport logs a runtime summary every interval until ctx is done. It
// is enabled by the "report" log level.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	fields := reportFields()

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fields["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = int64(vm.Used) / 1024 / 1024
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}

func reportFields() Fields {
	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		flowData[k.(string)] = map[string]int64{
			"batches": atomic.LoadInt64(&fs.batches),
			"records": atomic.LoadInt64(&fs.records),
		}
		return true
	})

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return Fields{
		"warns":          snapshot(&warns),
		"errors":         snapshot(&errs),
		"flows":          flowData,
		"records_loaded": atomic.LoadInt64(&loaded),
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  int64(ms.HeapAlloc) / 1024 / 1024,
	}
}
