package domain

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
)

const (
	// RoomCodeLength is the fixed length of every room code.
	RoomCodeLength = 6
	// RoomCodeAlphabet excludes 0, O and 1.
	RoomCodeAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ23456789"
)

var ErrInvalidRoomCode = errors.New("invalid room code")

// GenerateRoomCode draws RoomCodeLength uniform samples from RoomCodeAlphabet.
func GenerateRoomCode() (string, error) {
	return GenerateRoomCodeFrom(rand.Reader)
}

// GenerateRoomCodeFrom is GenerateRoomCode with an explicit entropy source.
func GenerateRoomCodeFrom(r io.Reader) (string, error) {
	size := big.NewInt(int64(len(RoomCodeAlphabet)))
	var b strings.Builder
	b.Grow(RoomCodeLength)
	for i := 0; i < RoomCodeLength; i++ {
		n, err := rand.Int(r, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(RoomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeRoomCode trims and upper-cases user input.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateRoomCode checks length and alphabet.
func ValidateRoomCode(code string) error {
	if len(code) != RoomCodeLength {
		return ErrInvalidRoomCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(RoomCodeAlphabet, code[i]) < 0 {
			return ErrInvalidRoomCode
		}
	}
	return nil
}
