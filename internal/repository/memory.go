package repository

import (
	"context"
	"sync"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
)

type InMemoryRoomRepository struct {
	mu     sync.RWMutex
	rooms  map[string]*domain.Room
	broker *broker
}

func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{
		rooms:  make(map[string]*domain.Room),
		broker: newBroker(),
	}
}

func (r *InMemoryRoomRepository) Set(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return ErrNilRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := room.Clone()
	next.Revision = revisionOf(r.rooms[room.RoomCode]) + 1
	r.commit(next)
	return nil
}

func (r *InMemoryRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (r *InMemoryRoomRepository) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[code]
	return ok, nil
}

func (r *InMemoryRoomRepository) Update(ctx context.Context, code string, upd domain.RoomUpdate) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	next := current.Clone()
	upd.Apply(next)
	next.Revision = current.Revision + 1
	r.commit(next)
	return next.Clone(), nil
}

// Transaction runs fn under the write lock, so no other write can interleave.
func (r *InMemoryRoomRepository) Transaction(ctx context.Context, code string, fn TxFunc) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	upd, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if upd == nil {
		return current.Clone(), nil
	}

	next := current.Clone()
	upd.Apply(next)
	next.Revision = current.Revision + 1
	r.commit(next)
	return next.Clone(), nil
}

func (r *InMemoryRoomRepository) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rooms[code]
	if !ok {
		return nil
	}

	delete(r.rooms, code)
	r.broker.publish(code, domain.AbsentSnapshot(current.Revision+1))
	return nil
}

func (r *InMemoryRoomRepository) Subscribe(ctx context.Context, code string) (<-chan domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Holding the read lock keeps writers out until the initial snapshot is queued.
	r.mu.RLock()
	initial := domain.AbsentSnapshot(0)
	if room, ok := r.rooms[code]; ok {
		initial = domain.PresentSnapshot(room.Clone())
	}
	id, ch := r.broker.subscribe(code, initial)
	r.mu.RUnlock()

	go func() {
		<-ctx.Done()
		r.broker.unsubscribe(code, id)
	}()

	return ch, nil
}

func (r *InMemoryRoomRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, room := range r.rooms {
		if room.ExpiresAt.IsZero() || !room.ExpiredAt(now) {
			continue
		}
		delete(r.rooms, code)
		r.broker.publish(code, domain.AbsentSnapshot(room.Revision+1))
		removed++
	}

	return removed, nil
}

// commit stores next and notifies subscribers. Callers hold the write lock.
func (r *InMemoryRoomRepository) commit(next *domain.Room) {
	r.rooms[next.RoomCode] = next
	r.broker.publish(next.RoomCode, domain.PresentSnapshot(next))
}
