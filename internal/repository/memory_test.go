package repository

import (
	"context"
	"testing"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoomRepository(t *testing.T) {
	testRoomRepository(t, func(t *testing.T) RoomRepository {
		return NewInMemoryRoomRepository()
	})
}

func TestInMemoryReturnsCopies(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()
	require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

	room, err := repo.Get(ctx, "AB3D9K")
	require.NoError(t, err)
	room.IsBuzzerActive = false

	room, err = repo.Get(ctx, "AB3D9K")
	require.NoError(t, err)
	assert.True(t, room.IsBuzzerActive)
}

func TestInMemorySlowSubscriberKeepsLatest(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

	ch, err := repo.Subscribe(ctx, "AB3D9K")
	require.NoError(t, err)

	writes := listenerBuffer * 3
	for i := 0; i < writes; i++ {
		upd := domain.ResetUpdate()
		_, err := repo.Update(ctx, "AB3D9K", upd)
		require.NoError(t, err)
	}

	var last domain.Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, int64(writes+1), last.Revision)
}

func TestInMemoryUnsubscribeOnCancel(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := repo.Subscribe(ctx, "AB3D9K")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.broker.count("AB3D9K"))

	cancel()
	assert.Eventually(t, func() bool {
		return repo.broker.count("AB3D9K") == 0
	}, time.Second, 5*time.Millisecond)

	_, err = repo.Subscribe(ctx, "AB3D9K")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRevisionFilter(t *testing.T) {
	var f revisionFilter
	room := domain.NewRoom("AB3D9K", 0)

	room.Revision = 3
	assert.True(t, f.accept(domain.PresentSnapshot(room.Clone())))
	room.Revision = 2
	assert.False(t, f.accept(domain.PresentSnapshot(room.Clone())))
	room.Revision = 3
	assert.False(t, f.accept(domain.PresentSnapshot(room.Clone())))
	assert.True(t, f.accept(domain.Snapshot{Err: assert.AnError}))
	assert.True(t, f.accept(domain.AbsentSnapshot(4)))
	room.Revision = 1
	assert.True(t, f.accept(domain.PresentSnapshot(room.Clone())))
}
