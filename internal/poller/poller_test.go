package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kanekoshoyu/anysignal/models"
	"github.com/kanekoshoyu/anysignal/writer"
)

type tickSource struct {
	mu    sync.Mutex
	polls int
	fail  bool
}

func (s *tickSource) ID() string              { return "fear_and_greed" }
func (s *tickSource) Interval() time.Duration { return 5 * time.Millisecond }

func (s *tickSource) Poll(context.Context) (writer.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.fail && s.polls%2 == 1 {
		return nil, errors.New("upstream 503")
	}
	return writer.AssetContexts{{Time: time.Now(), Coin: "BTC"}}, nil
}

func (s *tickSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

type memLoader struct {
	mu      sync.Mutex
	records []models.Record
}

func (l *memLoader) Load(_ context.Context, rows writer.Rows) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.records)
	for i := 0; i < rows.Len(); i++ {
		rows.Fanout(i, func(r models.Record) { l.records = append(l.records, r) })
	}
	return len(l.records) - before, nil
}

func (l *memLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	src := &tickSource{}
	loader := &memLoader{}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := Run(ctx, src, loader); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.count() < 2 {
		t.Fatalf("expected several polls, got %d", src.count())
	}
	if loader.count() != src.count()*6 {
		t.Fatalf("loaded %d records for %d polls", loader.count(), src.count())
	}
}

func TestRunSurvivesPollErrors(t *testing.T) {
	src := &tickSource{fail: true}
	loader := &memLoader{}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := RunAll(ctx, loader, src); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	if src.count() < 3 {
		t.Fatalf("poller stopped after an error: %d polls", src.count())
	}
	if loader.count() == 0 {
		t.Fatalf("successful polls were not loaded")
	}
}

func TestRegister(t *testing.T) {
	registryMu.Lock()
	saved := registry
	registry = nil
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = saved
		registryMu.Unlock()
	})

	if len(Registered()) != 0 {
		t.Fatalf("expected empty registry")
	}
	a, b := &tickSource{}, &tickSource{fail: true}
	Register(a)
	Register(b)

	got := Registered()
	if len(got) != 2 || got[0] != Source(a) || got[1] != Source(b) {
		t.Fatalf("unexpected registry: %v", got)
	}
	got[0] = nil
	if Registered()[0] == nil {
		t.Fatalf("Registered must return a copy")
	}
}
