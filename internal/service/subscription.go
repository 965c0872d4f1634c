package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

const subscriptionBuffer = 16

// Subscription is a cancellable stream of room states.
type Subscription struct {
	cancel context.CancelFunc
	out    chan *domain.Room
	done   chan struct{}

	mu     sync.RWMutex
	latest *domain.Room
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		cancel: cancel,
		out:    make(chan *domain.Room, subscriptionBuffer),
		done:   make(chan struct{}),
	}
}

// C yields existing room states in commit order. A reader that falls more
// than the buffer behind loses the oldest states; Latest is always current.
// C is closed after Close.
func (s *Subscription) C() <-chan *domain.Room {
	return s.out
}

// Latest returns the last room state seen by the stream.
func (s *Subscription) Latest() (*domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil, false
	}
	return s.latest.Clone(), true
}

// Close stops the stream and waits for it to drain.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, snapshots <-chan domain.Snapshot, log *slog.Logger) {
	defer close(s.done)
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			switch {
			case snap.Err != nil:
				log.Warn("room subscription error", sl.Err(snap.Err))
				continue
			case !snap.Exists:
				log.Debug("room does not exist")
				continue
			}

			s.mu.Lock()
			s.latest = snap.Room.Clone()
			s.mu.Unlock()

			s.offer(snap.Room)
		}
	}
}

// offer never blocks: a full buffer loses its oldest room. run is the only
// sender, so the retry after the drop always has room.
func (s *Subscription) offer(room *domain.Room) {
	select {
	case s.out <- room:
		return
	default:
	}

	select {
	case <-s.out:
	default:
	}
	s.out <- room
}
