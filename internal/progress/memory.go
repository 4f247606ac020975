package progress

import (
	"context"
	"sync"

	"github.com/cwygoda/scouter/internal/domain"
)

// Memory is an in-process ProgressBus. Each job keeps its full event history
// so late subscribers get a replay before live events.
type Memory struct {
	mu        sync.Mutex
	history   map[string][]domain.ProgressEvent
	listeners map[string]map[*subscriber]struct{}
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		history:   make(map[string][]domain.ProgressEvent),
		listeners: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish appends ev to the job history and queues it for every listener.
func (m *Memory) Publish(jobID string, ev domain.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[jobID] = append(m.history[jobID], ev)
	for sub := range m.listeners[jobID] {
		sub.push(ev)
	}
}

// Subscribe attaches a listener. History is queued under the same lock that
// guards Publish, so replay and live events neither overlap nor leave a gap.
func (m *Memory) Subscribe(ctx context.Context, jobID string) (<-chan domain.ProgressEvent, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	sub.push(m.history[jobID]...)
	set, ok := m.listeners[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		m.listeners[jobID] = set
	}
	set[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		sub.pump(ctx)
		m.remove(jobID, sub)
	}()
	return sub.out, sub.stop
}

func (m *Memory) remove(jobID string, sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.listeners[jobID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(m.listeners, jobID)
	}
}

// Clear drops the job's history and detaches its listeners.
func (m *Memory) Clear(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.listeners[jobID] {
		sub.stop()
	}
	delete(m.listeners, jobID)
	delete(m.history, jobID)
}

// History returns a copy of the job's events in emission order.
func (m *Memory) History(jobID string) []domain.ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProgressEvent(nil), m.history[jobID]...)
}

// Listeners returns the number of live subscribers for a job.
func (m *Memory) Listeners(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[jobID])
}
