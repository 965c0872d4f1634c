package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

const (
	defaultKeyPrefix = "buzzer:"
	maxTxRetries     = 16
)

// Hash fields of a room document.
const (
	fieldRoomCode         = "room_code"
	fieldIsBuzzerActive   = "is_buzzer_active"
	fieldBuzzedInTeamID   = "buzzed_in_team_id"
	fieldBuzzedInTeamName = "buzzed_in_team_name"
	fieldBuzzedTimestamp  = "buzzed_timestamp"
	fieldExpiresAt        = "expires_at"
	fieldRevision         = "revision"
)

// RedisRoomRepository keeps each room in a hash and pushes every committed
// write on the room's pub/sub channel.
type RedisRoomRepository struct {
	client    *redis.Client
	keyPrefix string
	log       *slog.Logger
}

func NewRedisRoomRepository(client *redis.Client, keyPrefix string, log *slog.Logger) *RedisRoomRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomRepository")
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRoomRepository{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log,
	}
}

func (r *RedisRoomRepository) roomKey(code string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, code)
}

func (r *RedisRoomRepository) roomChannel(code string) string {
	return fmt.Sprintf("%sroom:%s:events", r.keyPrefix, code)
}

func (r *RedisRoomRepository) roomKeyPattern() string {
	return r.keyPrefix + "room:*"
}

func (r *RedisRoomRepository) Set(ctx context.Context, room *domain.Room) error {
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

func (r *RedisRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	room, err := r.load(ctx, r.client, code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (r *RedisRoomRepository) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n, err := r.client.Exists(ctx, r.roomKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %s: %w", code, err)
	}
	return n > 0, nil
}

func (r *RedisRoomRepository) Update(ctx context.Context, code string, upd domain.RoomUpdate) (*domain.Room, error) {
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

// Transaction uses optimistic locking: the key is WATCHed while fn runs and
// the write is retried when another client commits first.
func (r *RedisRoomRepository) Transaction(ctx context.Context, code string, fn TxFunc) (*domain.Room, error) {
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

func (r *RedisRoomRepository) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.roomKey(code)
	var removed *domain.Room

	txf := func(tx *redis.Tx) error {
		removed = nil
		current, err := r.load(ctx, tx, code)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		removed = current
		return nil
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return err
	}
	if removed != nil {
		r.publish(ctx, code, domain.AbsentSnapshot(removed.Revision+1))
	}
	return nil
}

func (r *RedisRoomRepository) Subscribe(ctx context.Context, code string) (<-chan domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pubsub := r.client.Subscribe(ctx, r.roomChannel(code))
	// wait for the subscription to be confirmed so no write slips between it and the first read
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", code, err)
	}

	out := make(chan domain.Snapshot, listenerBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		var filter revisionFilter
		emit := func(s domain.Snapshot) bool {
			if !filter.accept(s) {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		room, err := r.load(ctx, r.client, code)
		switch {
		case err != nil:
			if !emit(domain.Snapshot{Err: err}) {
				return
			}
		case room == nil:
			if !emit(domain.AbsentSnapshot(0)) {
				return
			}
		default:
			if !emit(domain.PresentSnapshot(room)) {
				return
			}
		}

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					s = domain.Snapshot{Err: err}
				}
				if !emit(s) {
					return
				}
			}
		}
	}()

	return out, nil
}

// DeleteExpired only finds rooms whose native TTL has not fired yet, such as
// rooms written without one.
func (r *RedisRoomRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	removed := 0
	iter := r.client.Scan(ctx, 0, r.roomKeyPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		code := key[len(r.keyPrefix+"room:"):]
		if domain.ValidateRoomCode(code) != nil {
			continue
		}

		room, err := r.load(ctx, r.client, code)
		if err != nil {
			return removed, err
		}
		if room == nil || room.ExpiresAt.IsZero() || !room.ExpiredAt(now) {
			continue
		}
		if err := r.Delete(ctx, code); err != nil {
			return removed, err
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis: scan rooms: %w", err)
	}

	return removed, nil
}

// mutate reads the room under WATCH, lets fn compute the next document and
// commits it with MULTI/EXEC. fn returning nil skips the write.
func (r *RedisRoomRepository) mutate(ctx context.Context, code string, fn func(current *domain.Room) (*domain.Room, error)) (*domain.Room, error) {
	key := r.roomKey(code)
	var (
		result  *domain.Room
		changed bool
	)

	txf := func(tx *redis.Tx) error {
		result, changed = nil, false

		current, err := r.load(ctx, tx, code)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, encodeHash(next))
			if !next.ExpiresAt.IsZero() {
				pipe.PExpireAt(ctx, key, next.ExpiresAt)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result, changed = next, true
		return nil
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return nil, err
	}
	if changed {
		r.publish(ctx, code, domain.PresentSnapshot(result.Clone()))
	}
	return result.Clone(), nil
}

func (r *RedisRoomRepository) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTransactionConflict
}

func (r *RedisRoomRepository) publish(ctx context.Context, code string, s domain.Snapshot) {
	payload, err := encodeEvent(s)
	if err != nil {
		r.log.Error("failed to encode room event", slog.String("room", code), sl.Err(err))
		return
	}
	// the write is already committed, so a cancelled caller must not lose the push
	if err := r.client.Publish(context.WithoutCancel(ctx), r.roomChannel(code), payload).Err(); err != nil {
		r.log.Error("failed to publish room event", slog.String("room", code), sl.Err(err))
	}
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (r *RedisRoomRepository) load(ctx context.Context, c hashReader, code string) (*domain.Room, error) {
	values, err := c.HGetAll(ctx, r.roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load room %s: %w", code, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return decodeHash(values)
}

func encodeHash(room *domain.Room) map[string]interface{} {
	values := map[string]interface{}{
		fieldRoomCode:        room.RoomCode,
		fieldIsBuzzerActive:  strconv.FormatBool(room.IsBuzzerActive),
		fieldBuzzedTimestamp: strconv.FormatInt(room.BuzzedTimestamp, 10),
		fieldRevision:        strconv.FormatInt(room.Revision, 10),
	}
	if room.BuzzedInTeamID != nil {
		values[fieldBuzzedInTeamID] = *room.BuzzedInTeamID
	}
	if room.BuzzedInTeamName != nil {
		values[fieldBuzzedInTeamName] = *room.BuzzedInTeamName
	}
	if !room.ExpiresAt.IsZero() {
		values[fieldExpiresAt] = strconv.FormatInt(room.ExpiresAt.UnixMilli(), 10)
	}
	return values
}

func decodeHash(values map[string]string) (*domain.Room, error) {
	room := &domain.Room{RoomCode: values[fieldRoomCode]}

	var err error
	if room.IsBuzzerActive, err = strconv.ParseBool(values[fieldIsBuzzerActive]); err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", fieldIsBuzzerActive, err)
	}
	if v, ok := values[fieldBuzzedTimestamp]; ok {
		if room.BuzzedTimestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("redis: decode %s: %w", fieldBuzzedTimestamp, err)
		}
	}
	if v, ok := values[fieldRevision]; ok {
		if room.Revision, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("redis: decode %s: %w", fieldRevision, err)
		}
	}
	if v, ok := values[fieldExpiresAt]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: decode %s: %w", fieldExpiresAt, err)
		}
		room.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	if v, ok := values[fieldBuzzedInTeamID]; ok {
		room.BuzzedInTeamID = &v
	}
	if v, ok := values[fieldBuzzedInTeamName]; ok {
		room.BuzzedInTeamName = &v
	}

	return room, nil
}

// roomEvent is the pub/sub payload. It carries the whole document so
// subscribers never read back.
type roomEvent struct {
	Exists           bool    `json:"exists"`
	Revision         int64   `json:"revision"`
	RoomCode         string  `json:"roomCode,omitempty"`
	IsBuzzerActive   bool    `json:"isBuzzerActive"`
	BuzzedInTeamID   *string `json:"buzzedInTeamId"`
	BuzzedInTeamName *string `json:"buzzedInTeamName"`
	BuzzedTimestamp  int64   `json:"buzzedTimestamp"`
	ExpiresAt        int64   `json:"expiresAt,omitempty"`
}

func encodeEvent(s domain.Snapshot) ([]byte, error) {
	ev := roomEvent{Exists: s.Exists, Revision: s.Revision}
	if s.Exists && s.Room != nil {
		ev.RoomCode = s.Room.RoomCode
		ev.IsBuzzerActive = s.Room.IsBuzzerActive
		ev.BuzzedInTeamID = s.Room.BuzzedInTeamID
		ev.BuzzedInTeamName = s.Room.BuzzedInTeamName
		ev.BuzzedTimestamp = s.Room.BuzzedTimestamp
		if !s.Room.ExpiresAt.IsZero() {
			ev.ExpiresAt = s.Room.ExpiresAt.UnixMilli()
		}
	}
	return json.Marshal(ev)
}

func decodeEvent(payload []byte) (domain.Snapshot, error) {
	var ev roomEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis: decode room event: %w", err)
	}
	if !ev.Exists {
		return domain.AbsentSnapshot(ev.Revision), nil
	}

	room := &domain.Room{
		RoomCode:         ev.RoomCode,
		IsBuzzerActive:   ev.IsBuzzerActive,
		BuzzedInTeamID:   ev.BuzzedInTeamID,
		BuzzedInTeamName: ev.BuzzedInTeamName,
		BuzzedTimestamp:  ev.BuzzedTimestamp,
		Revision:         ev.Revision,
	}
	if ev.ExpiresAt != 0 {
		room.ExpiresAt = time.UnixMilli(ev.ExpiresAt).UTC()
	}
	return domain.PresentSnapshot(room), nil
}
