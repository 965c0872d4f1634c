package repository

import (
	"sync"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/buzzer/internal/domain"
)

const listenerBuffer = 16

type listener struct {
	ch     chan domain.Snapshot
	filter revisionFilter
}

// broker fans room snapshots out to in-process subscribers.
type broker struct {
	mu        sync.Mutex
	listeners map[string]map[uuid.UUID]*listener
}

func newBroker() *broker {
	return &broker{listeners: make(map[string]map[uuid.UUID]*listener)}
}

// subscribe registers a listener and queues initial ahead of any later publish.
func (b *broker) subscribe(code string, initial domain.Snapshot) (uuid.UUID, <-chan domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	l := &listener{ch: make(chan domain.Snapshot, listenerBuffer)}
	l.filter.accept(initial)
	l.ch <- initial

	if b.listeners[code] == nil {
		b.listeners[code] = make(map[uuid.UUID]*listener)
	}
	b.listeners[code][id] = l
	return id, l.ch
}

func (b *broker) unsubscribe(code string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.listeners[code]
	l, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.listeners, code)
	}
	close(l.ch)
}

// publish never blocks. A full listener loses its oldest pending snapshot.
func (b *broker) publish(code string, s domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners[code] {
		l.offer(s)
	}
}

// deliver is publish for a single listener.
func (b *broker) deliver(code string, id uuid.UUID, s domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.listeners[code][id]; ok {
		l.offer(s)
	}
}

func (l *listener) offer(s domain.Snapshot) {
	if !l.filter.accept(s) {
		return
	}
	own := s
	own.Room = s.Room.Clone()
	select {
	case l.ch <- own:
	default:
		select {
		case <-l.ch:
		default:
		}
		l.ch <- own
	}
}

func (b *broker) count(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[code])
}
