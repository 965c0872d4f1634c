package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func nextSnapshot(t *testing.T, ch <-chan domain.Snapshot) domain.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
		return domain.Snapshot{}
	}
}

func team(t *testing.T, id string) domain.Team {
	t.Helper()
	tm, ok := domain.FindTeam(id)
	require.True(t, ok)
	return tm
}

// testRoomRepository runs the behaviour every store backend must share.
func testRoomRepository(t *testing.T, newRepo func(t *testing.T) RoomRepository) {
	t.Run("set get exists", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ok, err := repo.Exists(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", time.Hour)))

		ok, err = repo.Exists(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.True(t, ok)

		room, err := repo.Get(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.Equal(t, "AB3D9K", room.RoomCode)
		assert.True(t, room.IsBuzzerActive)
		assert.Nil(t, room.BuzzedInTeamID)
		assert.Equal(t, int64(1), room.Revision)
		assert.False(t, room.ExpiresAt.IsZero())
	})

	t.Run("missing room", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Get(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, ErrRoomNotFound)

		_, err = repo.Update(ctx, "ZZZZZZ", domain.ResetUpdate())
		assert.ErrorIs(t, err, ErrRoomNotFound)

		_, err = repo.Transaction(ctx, "ZZZZZZ", func(*domain.Room) (*domain.RoomUpdate, error) {
			t.Fatal("fn must not run for a missing room")
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrRoomNotFound)

		assert.NoError(t, repo.Delete(ctx, "ZZZZZZ"))
		assert.ErrorIs(t, repo.Set(ctx, nil), ErrNilRoom)
	})

	t.Run("update bumps revision", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

		upd := domain.BuzzUpdate(team(t, "green"), time.UnixMilli(1_700_000_000_000))
		room, err := repo.Update(ctx, "AB3D9K", upd)
		require.NoError(t, err)
		assert.False(t, room.IsBuzzerActive)
		require.NotNil(t, room.BuzzedInTeamName)
		assert.Equal(t, "Green Team", *room.BuzzedInTeamName)
		assert.Equal(t, int64(2), room.Revision)

		room, err = repo.Update(ctx, "AB3D9K", domain.ResetUpdate())
		require.NoError(t, err)
		assert.True(t, room.IsBuzzerActive)
		assert.Nil(t, room.BuzzedInTeamID)
		assert.Equal(t, int64(1_700_000_000_000), room.BuzzedTimestamp)
		assert.Equal(t, int64(3), room.Revision)
	})

	t.Run("transaction without write", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

		room, err := repo.Transaction(ctx, "AB3D9K", func(current *domain.Room) (*domain.RoomUpdate, error) {
			assert.Equal(t, "AB3D9K", current.RoomCode)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), room.Revision)

		boom := errors.New("boom")
		_, err = repo.Transaction(ctx, "AB3D9K", func(*domain.Room) (*domain.RoomUpdate, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		room, err = repo.Get(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.Equal(t, int64(1), room.Revision)
		assert.True(t, room.IsBuzzerActive)
	})

	t.Run("concurrent transactions commit one winner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

		ids := []string{"red", "blue", "green", "yellow", "red", "blue", "green", "yellow"}
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for _, id := range ids {
			wg.Add(1)
			go func(tm domain.Team) {
				defer wg.Done()
				var wrote bool
				_, err := repo.Transaction(ctx, "AB3D9K", func(current *domain.Room) (*domain.RoomUpdate, error) {
					wrote = false
					if !current.IsBuzzerActive {
						return nil, nil
					}
					wrote = true
					upd := domain.BuzzUpdate(tm, time.Now())
					return &upd, nil
				})
				if !assert.NoError(t, err) || !wrote {
					return
				}
				mu.Lock()
				winners = append(winners, tm.ID)
				mu.Unlock()
			}(team(t, id))
		}
		wg.Wait()

		require.Len(t, winners, 1)
		room, err := repo.Get(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.False(t, room.IsBuzzerActive)
		require.NotNil(t, room.BuzzedInTeamID)
		assert.Equal(t, winners[0], *room.BuzzedInTeamID)
		assert.Equal(t, int64(2), room.Revision)
	})

	t.Run("subscribe follows the document", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := repo.Subscribe(ctx, "AB3D9K")
		require.NoError(t, err)

		s := nextSnapshot(t, ch)
		require.NoError(t, s.Err)
		assert.False(t, s.Exists)

		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", time.Hour)))
		s = nextSnapshot(t, ch)
		require.True(t, s.Exists)
		assert.True(t, s.Room.IsBuzzerActive)
		assert.Equal(t, int64(1), s.Revision)

		_, err = repo.Update(ctx, "AB3D9K", domain.BuzzUpdate(team(t, "yellow"), time.Now()))
		require.NoError(t, err)
		s = nextSnapshot(t, ch)
		require.True(t, s.Exists)
		assert.False(t, s.Room.IsBuzzerActive)
		require.NotNil(t, s.Room.BuzzedInTeamID)
		assert.Equal(t, "yellow", *s.Room.BuzzedInTeamID)

		require.NoError(t, repo.Delete(ctx, "AB3D9K"))
		s = nextSnapshot(t, ch)
		assert.False(t, s.Exists)
		assert.Nil(t, s.Room)

		// a recreated room is delivered even though its revision starts over
		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", time.Hour)))
		s = nextSnapshot(t, ch)
		assert.True(t, s.Exists)
		assert.Equal(t, int64(1), s.Revision)
	})

	t.Run("subscribe to existing room starts with it", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", 0)))

		ch, err := repo.Subscribe(ctx, "AB3D9K")
		require.NoError(t, err)

		s := nextSnapshot(t, ch)
		require.True(t, s.Exists)
		assert.Equal(t, "AB3D9K", s.Room.RoomCode)

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, waitTimeout, 10*time.Millisecond)
	})

	t.Run("delete expired", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		require.NoError(t, repo.Set(ctx, domain.NewRoom("AB3D9K", time.Hour)))
		require.NoError(t, repo.Set(ctx, domain.NewRoom("ZZZZZZ", 0)))

		n, err := repo.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.DeleteExpired(ctx, time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := repo.Exists(ctx, "AB3D9K")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Exists(ctx, "ZZZZZZ")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
