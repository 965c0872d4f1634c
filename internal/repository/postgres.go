package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresRoomRepository stores rooms in one table and serialises writes on
// a row lock. Subscriptions are served in-process, so every writer of a room
// must share this instance.
type PostgresRoomRepository struct {
	db     *gorm.DB
	broker *broker

	// held from commit through publish so snapshots go out in commit order
	writeMu sync.Mutex
}

func NewPostgresRoomRepository(db *gorm.DB) *PostgresRoomRepository {
	return &PostgresRoomRepository{db: db, broker: newBroker()}
}

// AutoMigrate creates or updates the rooms table.
func (r *PostgresRoomRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&model.Room{})
}

func (r *PostgresRoomRepository) Set(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return ErrNilRoom
	}

	_, err := r.mutate(ctx, room.RoomCode, func(*domain.Room) (*domain.Room, error) {
		return room.Clone(), nil
	})
	return err
}

func (r *PostgresRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room model.Room
	err := r.db.WithContext(ctx).Where("room_code = ?", code).Take(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return toDomainRoom(&room), nil
}

func (r *PostgresRoomRepository) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Room{}).Where("room_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PostgresRoomRepository) Update(ctx context.Context, code string, upd domain.RoomUpdate) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return r.mutate(ctx, code, func(current *domain.Room) (*domain.Room, error) {
		if current == nil {
			return nil, ErrRoomNotFound
		}
		next := current.Clone()
		upd.Apply(next)
		return next, nil
	})
}

// Transaction holds SELECT ... FOR UPDATE on the room row while fn runs.
func (r *PostgresRoomRepository) Transaction(ctx context.Context, code string, fn TxFunc) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return r.mutate(ctx, code, func(current *domain.Room) (*domain.Room, error) {
		if current == nil {
			return nil, ErrRoomNotFound
		}
		upd, err := fn(current.Clone())
		if err != nil {
			return nil, err
		}
		if upd == nil {
			return nil, nil
		}
		next := current.Clone()
		upd.Apply(next)
		return next, nil
	})
}

func (r *PostgresRoomRepository) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var removed *domain.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockRoom(tx, code)
		if err != nil || current == nil {
			return err
		}
		if err := tx.Where("room_code = ?", code).Delete(&model.Room{}).Error; err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return err
	}

	if removed != nil {
		r.broker.publish(code, domain.AbsentSnapshot(removed.Revision+1))
	}
	return nil
}

func (r *PostgresRoomRepository) Subscribe(ctx context.Context, code string) (<-chan domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initial := domain.AbsentSnapshot(0)
	room, err := r.Get(ctx, code)
	switch {
	case err == nil:
		initial = domain.PresentSnapshot(room)
	case !errors.Is(err, ErrRoomNotFound):
		return nil, err
	}

	// A write committed between the first read and the registration was
	// published to nobody, so read again; the revision filter drops repeats.
	id, ch := r.broker.subscribe(code, initial)
	latest, err := r.Get(ctx, code)
	switch {
	case err == nil:
		r.broker.deliver(code, id, domain.PresentSnapshot(latest))
	case errors.Is(err, ErrRoomNotFound) && initial.Exists:
		r.broker.deliver(code, id, domain.AbsentSnapshot(initial.Revision+1))
	}

	go func() {
		<-ctx.Done()
		r.broker.unsubscribe(code, id)
	}()

	return ch, nil
}

func (r *PostgresRoomRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var expired []model.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Model(&model.Room{}).
			Select("room_code", "revision").
			Where("expires_at IS NOT NULL AND expires_at < ?", now.UTC()).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		codes := make([]string, 0, len(expired))
		for _, room := range expired {
			codes = append(codes, room.RoomCode)
		}
		return tx.Where("room_code IN ?", codes).Delete(&model.Room{}).Error
	})
	if err != nil {
		return 0, err
	}

	for _, room := range expired {
		r.broker.publish(room.RoomCode, domain.AbsentSnapshot(room.Revision+1))
	}
	return len(expired), nil
}

func (r *PostgresRoomRepository) mutate(ctx context.Context, code string, fn func(current *domain.Room) (*domain.Room, error)) (*domain.Room, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var (
		result  *domain.Room
		changed bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockRoom(tx, code)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		next.RoomCode = code
		next.Revision = revisionOf(current) + 1
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(toModelRoom(next)).Error; err != nil {
			return err
		}

		result, changed = next, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.broker.publish(code, domain.PresentSnapshot(result.Clone()))
	}
	return result.Clone(), nil
}

// lockRoom reads the row FOR UPDATE. A missing row yields nil without error.
func lockRoom(tx *gorm.DB, code string) (*domain.Room, error) {
	var room model.Room
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("room_code = ?", code).Take(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomainRoom(&room), nil
}

func toModelRoom(room *domain.Room) *model.Room {
	var expiresAt *time.Time
	if !room.ExpiresAt.IsZero() {
		t := room.ExpiresAt.UTC()
		expiresAt = &t
	}

	return &model.Room{
		RoomCode:         room.RoomCode,
		IsBuzzerActive:   room.IsBuzzerActive,
		BuzzedInTeamID:   room.BuzzedInTeamID,
		BuzzedInTeamName: room.BuzzedInTeamName,
		BuzzedTimestamp:  room.BuzzedTimestamp,
		ExpiresAt:        expiresAt,
		Revision:         room.Revision,
	}
}

func toDomainRoom(room *model.Room) *domain.Room {
	var expiresAt time.Time
	if room.ExpiresAt != nil {
		expiresAt = room.ExpiresAt.UTC()
	}

	return (&domain.Room{
		RoomCode:         room.RoomCode,
		IsBuzzerActive:   room.IsBuzzerActive,
		BuzzedInTeamID:   room.BuzzedInTeamID,
		BuzzedInTeamName: room.BuzzedInTeamName,
		BuzzedTimestamp:  room.BuzzedTimestamp,
		ExpiresAt:        expiresAt,
		Revision:         room.Revision,
	}).Clone()
}
