package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/repository"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

var ErrUnknownTeam = errors.New("unknown team")

// BuzzResult tells whether this buzz won the open window. Room is the state
// after the transaction either way.
type BuzzResult struct {
	Accepted bool
	Room     *domain.Room
}

type RoomService struct {
	rooms    repository.RoomRepository
	log      *slog.Logger
	lifetime time.Duration
	now      func() time.Time
}

func NewRoomService(rooms repository.RoomRepository, lifetime time.Duration, log *slog.Logger) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	if lifetime <= 0 {
		lifetime = domain.DefaultRoomLifetime
	}
	return &RoomService{
		rooms:    rooms,
		log:      log,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// CreateRoom writes a fresh open room, overwriting whatever sits at code.
func (s *RoomService) CreateRoom(ctx context.Context, code string) (*domain.Room, error) {
	const op = "service.room.create"
	log := s.log.With(slog.String("op", op), slog.String("room", code))

	if err := domain.ValidateRoomCode(code); err != nil {
		return nil, err
	}

	room := &domain.Room{
		RoomCode:       code,
		IsBuzzerActive: true,
		ExpiresAt:      s.now().UTC().Add(s.lifetime),
	}
	if err := s.rooms.Set(ctx, room); err != nil {
		log.Error("failed to create room", sl.Err(err))
		return nil, err
	}

	log.Info("room created", slog.Time("expires_at", room.ExpiresAt))
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	return s.rooms.Get(ctx, code)
}

// BuzzIn claims the buzzer for team inside a store transaction. Only the
// first team to commit while the buzzer is open wins; later calls see it
// locked and write nothing.
func (s *RoomService) BuzzIn(ctx context.Context, code string, team domain.Team) (BuzzResult, error) {
	const op = "service.room.buzz"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room", code),
		slog.String("team", team.ID),
	)

	canonical, ok := domain.FindTeam(team.ID)
	if !ok {
		return BuzzResult{}, ErrUnknownTeam
	}

	var accepted bool
	room, err := s.rooms.Transaction(ctx, code, func(current *domain.Room) (*domain.RoomUpdate, error) {
		accepted = false
		if !current.IsBuzzerActive {
			return nil, nil
		}
		accepted = true
		upd := domain.BuzzUpdate(canonical, s.now())
		return &upd, nil
	})
	if err != nil {
		log.Error("buzz failed", sl.Err(err))
		return BuzzResult{}, err
	}

	if accepted {
		log.Info("team buzzed in", slog.Int64("buzzed_at", room.BuzzedTimestamp))
	} else {
		log.Debug("buzzer already locked")
	}
	return BuzzResult{Accepted: accepted, Room: room}, nil
}

// ResetBuzzer reopens the buzzer. The last buzz time stays on the document.
func (s *RoomService) ResetBuzzer(ctx context.Context, code string) (*domain.Room, error) {
	const op = "service.room.reset"
	log := s.log.With(slog.String("op", op), slog.String("room", code))

	room, err := s.rooms.Update(ctx, code, domain.ResetUpdate())
	if err != nil {
		log.Error("reset failed", sl.Err(err))
		return nil, err
	}

	log.Info("buzzer reset")
	return room, nil
}

// ValidateRoomCode reports whether a room exists. A missing room is not an
// error; store failures are.
func (s *RoomService) ValidateRoomCode(ctx context.Context, code string) (bool, error) {
	const op = "service.room.validate"

	ok, err := s.rooms.Exists(ctx, code)
	if err != nil {
		s.log.Warn("room lookup failed", slog.String("op", op), slog.String("room", code), sl.Err(err))
		return false, err
	}
	return ok, nil
}

func (s *RoomService) DeleteRoom(ctx context.Context, code string) error {
	const op = "service.room.delete"

	if err := s.rooms.Delete(ctx, code); err != nil {
		s.log.Error("delete failed", slog.String("op", op), slog.String("room", code), sl.Err(err))
		return err
	}
	s.log.Info("room deleted", slog.String("op", op), slog.String("room", code))
	return nil
}

// Subscribe starts a stream of room states. Each call returns a new
// independent stream; Close it when the observer goes away.
func (s *RoomService) Subscribe(ctx context.Context, code string) (*Subscription, error) {
	const op = "service.room.subscribe"
	log := s.log.With(slog.String("op", op), slog.String("room", code))

	ctx, cancel := context.WithCancel(ctx)
	snapshots, err := s.rooms.Subscribe(ctx, code)
	if err != nil {
		cancel()
		log.Error("subscribe failed", sl.Err(err))
		return nil, err
	}

	sub := newSubscription(cancel)
	go sub.run(ctx, snapshots, log)
	return sub, nil
}
