package service

import (
	"context"
	"log/slog"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/prefs"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

type roomCreator interface {
	CreateRoom(ctx context.Context, code string) (*domain.Room, error)
	DeleteRoom(ctx context.Context, code string) error
}

// LifecycleService hands out room codes and remembers, per device, the one
// room that device created last so it can be cleaned up on the next create.
type LifecycleService struct {
	rooms    roomCreator
	prefs    prefs.Store
	log      *slog.Logger
	generate func() (string, error)
}

func NewLifecycleService(rooms roomCreator, store prefs.Store, log *slog.Logger) *LifecycleService {
	if log == nil {
		log = slog.Default()
	}
	return &LifecycleService{
		rooms:    rooms,
		prefs:    store,
		log:      log,
		generate: domain.GenerateRoomCode,
	}
}

func (s *LifecycleService) GenerateRoomCode() (string, error) {
	return s.generate()
}

// RememberOwnedRoom overwrites the device's single slot.
func (s *LifecycleService) RememberOwnedRoom(ctx context.Context, device, code string) error {
	return s.prefs.Put(ctx, device, prefs.KeyLastRoom, code)
}

// ForgetOwnedRoom clears the slot and returns what it held.
func (s *LifecycleService) ForgetOwnedRoom(ctx context.Context, device string) (string, bool, error) {
	code, ok, err := s.prefs.Get(ctx, device, prefs.KeyLastRoom)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.prefs.Remove(ctx, device, prefs.KeyLastRoom); err != nil {
		return "", false, err
	}
	return code, true, nil
}

// CreateRoom drops the device's previous room, creates a new one and
// remembers it. Cleanup of the previous room is best effort.
func (s *LifecycleService) CreateRoom(ctx context.Context, device string) (*domain.Room, error) {
	const op = "service.lifecycle.create"
	log := s.log.With(slog.String("op", op), slog.String("device", device))

	previous, ok, err := s.ForgetOwnedRoom(ctx, device)
	switch {
	case err != nil:
		log.Warn("failed to read owned room", sl.Err(err))
	case ok:
		if err := s.rooms.DeleteRoom(ctx, previous); err != nil {
			log.Warn("failed to delete previous room", slog.String("room", previous), sl.Err(err))
		} else {
			log.Info("previous room deleted", slog.String("room", previous))
		}
	}

	code, err := s.generate()
	if err != nil {
		log.Error("failed to generate room code", sl.Err(err))
		return nil, err
	}

	room, err := s.rooms.CreateRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.RememberOwnedRoom(ctx, device, room.RoomCode); err != nil {
		log.Warn("failed to remember owned room", slog.String("room", room.RoomCode), sl.Err(err))
	}
	return room, nil
}
