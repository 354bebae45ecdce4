package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TripPipe/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob(DefaultSweepSpec, func() {}); err != nil {
		t.Errorf("descriptor specs should parse, got %v", err)
	}
	if err := s.AddJob("not a spec", func() {}); err == nil {
		t.Error("expected error for invalid spec")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestRunIdleSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := session.NewStore(session.WithClock(clock.Now))
	store.Start("old", "")
	clock.advance(23 * time.Hour)
	store.Start("fresh", "")
	clock.advance(2 * time.Hour)

	evicted := RunIdleSweep(store, DefaultIdleTTL)
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Fatalf("evicted = %v", evicted)
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Error("fresh session should survive")
	}
}

func TestScheduleIdleSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := session.NewStore(session.WithClock(clock.Now))
	store.Start("stale", "")
	clock.advance(time.Hour)

	s := NewScheduler()
	defer s.Stop()
	got := make(chan []string, 1)
	if err := s.ScheduleIdleSweep("@every 1s", store, time.Minute, func(ids []string) {
		select {
		case got <- ids:
		default:
		}
	}); err != nil {
		t.Fatalf("ScheduleIdleSweep failed: %v", err)
	}

	select {
	case ids := <-got:
		if len(ids) != 1 || ids[0] != "stale" {
			t.Errorf("evicted = %v", ids)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run")
	}
	if store.Len() != 0 {
		t.Errorf("store still holds %d sessions", store.Len())
	}
}
