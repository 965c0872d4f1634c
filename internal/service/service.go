package service

import (
	"context"

	"github.com/immxrtalbeast/buzzer/internal/domain"
)

type RoomInteractor interface {
	CreateRoom(ctx context.Context, code string) (*domain.Room, error)
	GetRoom(ctx context.Context, code string) (*domain.Room, error)
	Subscribe(ctx context.Context, code string) (*Subscription, error)
	BuzzIn(ctx context.Context, code string, team domain.Team) (BuzzResult, error)
	ResetBuzzer(ctx context.Context, code string) (*domain.Room, error)
	ValidateRoomCode(ctx context.Context, code string) (bool, error)
	DeleteRoom(ctx context.Context, code string) error
}

type LifecycleInteractor interface {
	GenerateRoomCode() (string, error)
	RememberOwnedRoom(ctx context.Context, device, code string) error
	ForgetOwnedRoom(ctx context.Context, device string) (string, bool, error)
	CreateRoom(ctx context.Context, device string) (*domain.Room, error)
}

type ValidationInteractor interface {
	For(device string) *Validator
	Forget(device string)
}
