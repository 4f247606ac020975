package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cwygoda/scouter/internal/domain"
)

func event(n int) domain.ProgressEvent {
	return domain.ProgressEvent{Step: domain.StepCapture, Detail: fmt.Sprintf("event %d", n), Progress: n}
}

// collect reads n events or fails after a timeout.
func collect(t *testing.T, ch <-chan domain.ProgressEvent, n int) []domain.ProgressEvent {
	t.Helper()
	var got []domain.ProgressEvent
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events, want %d", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(got), n)
		}
	}
	return got
}

func assertSequence(t *testing.T, got []domain.ProgressEvent, from, to int) {
	t.Helper()
	if len(got) != to-from+1 {
		t.Fatalf("got %d events, want %d", len(got), to-from+1)
	}
	for i, ev := range got {
		if ev.Progress != from+i {
			t.Errorf("event[%d].Progress = %d, want %d", i, ev.Progress, from+i)
		}
	}
}

func TestMemory_ReplayThenLive(t *testing.T) {
	bus := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 3; i++ {
		bus.Publish("job", event(i))
	}

	ch, stop := bus.Subscribe(ctx, "job")
	defer stop()

	for i := 4; i <= 6; i++ {
		bus.Publish("job", event(i))
	}

	assertSequence(t, collect(t, ch, 6), 1, 6)
}

func TestMemory_IndependentSubscribers(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	early, stopEarly := bus.Subscribe(ctx, "job")
	defer stopEarly()

	bus.Publish("job", event(1))
	bus.Publish("job", event(2))

	late, stopLate := bus.Subscribe(ctx, "job")
	defer stopLate()

	bus.Publish("job", event(3))

	assertSequence(t, collect(t, early, 3), 1, 3)
	assertSequence(t, collect(t, late, 3), 1, 3)
}

func TestMemory_JobsAreIsolated(t *testing.T) {
	bus := NewMemory()
	ctx := context.Background()

	bus.Publish("a", event(1))
	bus.Publish("b", event(100))

	ch, stop := bus.Subscribe(ctx, "a")
	defer stop()
	bus.Publish("a", event(2))

	assertSequence(t, collect(t, ch, 2), 1, 2)
}

func TestMemory_PublishDoesNotBlockOnIdleSubscriber(t *testing.T) {
	bus := NewMemory()
	_, stop := bus.Subscribe(context.Background(), "job")
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("job", event(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() blocked on a subscriber that never reads")
	}
}

func TestMemory_ListenerCleanup(t *testing.T) {
	bus := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch1, stop1 := bus.Subscribe(ctx, "job")
	_, stop2 := bus.Subscribe(context.Background(), "job")
	if got := bus.Listeners("job"); got != 2 {
		t.Fatalf("Listeners() = %d, want 2", got)
	}

	cancel()
	for range ch1 {
	}
	stop1()
	waitFor(t, func() bool { return bus.Listeners("job") == 1 })

	stop2()
	waitFor(t, func() bool { return bus.Listeners("job") == 0 })

	bus.Publish("job", event(1))
	if got := len(bus.History("job")); got != 1 {
		t.Errorf("History() len = %d, want 1 after listeners left", got)
	}
}

func TestMemory_Clear(t *testing.T) {
	bus := NewMemory()
	bus.Publish("job", event(1))
	ch, _ := bus.Subscribe(context.Background(), "job")
	collect(t, ch, 1)

	bus.Clear("job")

	if got := len(bus.History("job")); got != 0 {
		t.Errorf("History() len = %d, want 0", got)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after Clear(), want closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Clear()")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
