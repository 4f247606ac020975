package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockPurger hands out up to remaining jobs per call.
type mockPurger struct {
	mu        sync.Mutex
	remaining int
	err       error
	calls     int
	cutoffs   []time.Time
}

func (m *mockPurger) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.cutoffs = append(m.cutoffs, before)
	if m.err != nil {
		return 0, m.err
	}
	n := min(limit, m.remaining)
	m.remaining -= n
	return n, nil
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestWorker_Sweep(t *testing.T) {
	fixed := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		remaining int
		err       error
		wantTotal int
		wantCalls int
	}{
		{"nothing expired", 0, nil, 0, 1},
		{"single short batch", 3, nil, 3, 1},
		{"exact batch drains with a second call", 5, nil, 5, 2},
		{"several batches", 12, nil, 12, 3},
		{"error stops the sweep", 10, errors.New("db locked"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPurger{remaining: tt.remaining, err: tt.err}
			w := New(p, 24*time.Hour, time.Hour, 5)
			w.now = func() time.Time { return fixed }

			if got := w.sweep(context.Background()); got != tt.wantTotal {
				t.Errorf("sweep() = %d, want %d", got, tt.wantTotal)
			}
			if p.calls != tt.wantCalls {
				t.Errorf("PurgeExpired() calls = %d, want %d", p.calls, tt.wantCalls)
			}
			if want := fixed.Add(-24 * time.Hour); !p.cutoffs[0].Equal(want) {
				t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
			}
		})
	}
}

func TestWorker_Sweep_Cancelled(t *testing.T) {
	p := &mockPurger{remaining: 100}
	w := New(p, time.Hour, time.Hour, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := w.sweep(ctx); got != 0 {
		t.Errorf("sweep() = %d, want 0", got)
	}
	if p.calls != 0 {
		t.Errorf("PurgeExpired() calls = %d, want 0", p.calls)
	}
}

func TestWorker_Run_Ticks(t *testing.T) {
	p := &mockPurger{}
	w := New(p, time.Hour, 20*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for p.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("PurgeExpired() calls = %d after 1s, want >= 2", p.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker_Run_Cancellation(t *testing.T) {
	w := New(&mockPurger{}, time.Hour, 50*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let it run briefly
	time.Sleep(100 * time.Millisecond)

	// Cancel and verify it stops
	cancel()

	select {
	case <-done:
		// Good, worker stopped
	case <-time.After(time.Second):
		t.Error("worker did not stop after context cancellation")
	}
}
