// Package prefs keeps small per-device settings, such as the room a device
// created last.
package prefs

import (
	"context"
	"errors"
)

// KeyLastRoom holds the code of the room the device owns.
const KeyLastRoom = "my_last_room"

var ErrEmptyDevice = errors.New("device id is empty")

type Store interface {
	// Get reports ok=false when the key was never written or was removed.
	Get(ctx context.Context, device, key string) (value string, ok bool, err error)
	Put(ctx context.Context, device, key, value string) error
	Remove(ctx context.Context, device, key string) error
}
