package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
)

//go:generate mockgen -source=repository.go -destination=mocks/room_repository.go -package=mocks

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNilRoom             = errors.New("room is nil")
	ErrTransactionConflict = errors.New("room transaction conflict")
)

// TxFunc decides what to write given the room as read inside a transaction.
// Returning a nil update commits nothing.
type TxFunc func(current *domain.Room) (*domain.RoomUpdate, error)

// RoomRepository is the room document store.
// Every committed write bumps the room revision and is pushed to subscribers.
type RoomRepository interface {
	// Set creates or overwrites the document keyed by room.RoomCode.
	Set(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, code string) (*domain.Room, error)
	Exists(ctx context.Context, code string) (bool, error)
	// Update applies a partial write. It fails with ErrRoomNotFound for a missing document.
	Update(ctx context.Context, code string, upd domain.RoomUpdate) (*domain.Room, error)
	// Transaction reads the room and conditionally writes it atomically.
	// It returns the room as it stands after the transaction.
	Transaction(ctx context.Context, code string, fn TxFunc) (*domain.Room, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, code string) error
	// Subscribe pushes the current document and then every change until ctx ends.
	Subscribe(ctx context.Context, code string) (<-chan domain.Snapshot, error)
	// DeleteExpired removes rooms past their expiry and reports how many went.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

func revisionOf(room *domain.Room) int64 {
	if room == nil {
		return 0
	}
	return room.Revision
}

// revisionFilter drops snapshots older than the last one delivered.
// An absent snapshot resets the floor so a recreated room starts over.
type revisionFilter struct {
	last int64
}

func (f *revisionFilter) accept(s domain.Snapshot) bool {
	if s.Err != nil {
		return true
	}
	if s.Revision != 0 && s.Revision <= f.last {
		return false
	}
	if s.Exists {
		f.last = s.Revision
	} else {
		f.last = 0
	}
	return true
}
