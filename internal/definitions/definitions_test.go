package definitions

import (
	"sync"
	"testing"
	"time"
)

func TestNewStartsAtVersionZero(t *testing.T) {
	s := New()
	if s.Version() != 0 {
		t.Errorf("Expected version 0, got %d", s.Version())
	}
	if s.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", s.Status())
	}
}

func TestAdvance(t *testing.T) {
	s := New()
	refreshedAt := time.Now().UTC()

	snap := s.Advance(refreshedAt, 30*time.Second)
	if snap.Version != 1 {
		t.Errorf("Expected version 1, got %d", snap.Version)
	}
	if got := s.Current(); got.RefreshedAt != refreshedAt || got.Duration != 30*time.Second {
		t.Errorf("Unexpected snapshot: %+v", got)
	}

	s.Advance(refreshedAt.Add(time.Hour), time.Second)
	if s.Version() != 2 {
		t.Errorf("Expected version 2, got %d", s.Version())
	}
}

func TestRestore(t *testing.T) {
	s := New()
	refreshedAt := time.Now().UTC().Add(-time.Hour)
	s.Restore(41, refreshedAt, 12*time.Second)

	if s.Version() != 41 {
		t.Errorf("Expected restored version 41, got %d", s.Version())
	}
	if s.Advance(time.Now().UTC(), 0).Version != 42 {
		t.Error("Advance should continue from the restored version")
	}
}

func TestBeginRefreshSingleFlight(t *testing.T) {
	s := New()

	if !s.BeginRefresh() {
		t.Fatal("First BeginRefresh should win")
	}
	if s.Status() != StatusRefreshing {
		t.Errorf("Expected refreshing, got %s", s.Status())
	}
	if s.BeginRefresh() {
		t.Error("Second BeginRefresh must lose while one is in flight")
	}

	s.EndRefresh()
	if s.Status() != StatusIdle {
		t.Errorf("Expected idle after EndRefresh, got %s", s.Status())
	}
	if !s.BeginRefresh() {
		t.Error("BeginRefresh should win again after EndRefresh")
	}
}

func TestBeginRefreshConcurrent(t *testing.T) {
	s := New()

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- s.BeginRefresh()
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one winner, got %d", count)
	}
}
