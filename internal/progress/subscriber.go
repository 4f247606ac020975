// Package progress fans pipeline progress events out to live observers.
package progress

import (
	"context"
	"sync"

	"github.com/cwygoda/scouter/internal/domain"
)

// subscriber owns an unbounded FIFO so publishers never wait on a slow reader.
type subscriber struct {
	mu     sync.Mutex
	queue  []domain.ProgressEvent
	notify chan struct{}
	out    chan domain.ProgressEvent
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan domain.ProgressEvent),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(evs ...domain.ProgressEvent) {
	if len(evs) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, evs...)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// pump delivers queued events in order until ctx is done or stop is called,
// then closes out.
func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}
