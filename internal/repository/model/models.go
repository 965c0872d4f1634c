package model

import (
	"time"
)

type Room struct {
	RoomCode         string     `gorm:"size:6;primaryKey"`
	IsBuzzerActive   bool       `gorm:"not null"`
	BuzzedInTeamID   *string    `gorm:"size:32"`
	BuzzedInTeamName *string    `gorm:"size:64"`
	BuzzedTimestamp  int64      `gorm:"not null"`
	ExpiresAt        *time.Time `gorm:"index"`
	Revision         int64      `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
