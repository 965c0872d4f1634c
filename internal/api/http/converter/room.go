package converter

import (
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
)

const validationFailureMessage = "Room not found. Check the code and try again."

// RoomResponse mirrors the room document fields.
type RoomResponse struct {
	RoomCode         string     `json:"roomCode"`
	IsBuzzerActive   bool       `json:"isBuzzerActive"`
	BuzzedInTeamID   *string    `json:"buzzedInTeamId"`
	BuzzedInTeamName *string    `json:"buzzedInTeamName"`
	BuzzedTimestamp  int64      `json:"buzzedTimestamp"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Revision         int64      `json:"revision"`
}

type TeamResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ValidationResponse struct {
	Status  domain.ValidationStatus `json:"status"`
	Message string                  `json:"message,omitempty"`
}

// SnapshotMessage is one websocket push.
type SnapshotMessage struct {
	Type string        `json:"type"`
	Room *RoomResponse `json:"room"`
}

func RoomToApi(r *domain.Room) *RoomResponse {
	if r == nil {
		return nil
	}

	var expiresAt *time.Time
	if !r.ExpiresAt.IsZero() {
		t := r.ExpiresAt.UTC()
		expiresAt = &t
	}

	return &RoomResponse{
		RoomCode:         r.RoomCode,
		IsBuzzerActive:   r.IsBuzzerActive,
		BuzzedInTeamID:   r.BuzzedInTeamID,
		BuzzedInTeamName: r.BuzzedInTeamName,
		BuzzedTimestamp:  r.BuzzedTimestamp,
		ExpiresAt:        expiresAt,
		Revision:         r.Revision,
	}
}

func TeamsToApi(teams []domain.Team) []TeamResponse {
	res := make([]TeamResponse, 0, len(teams))
	for _, t := range teams {
		res = append(res, TeamResponse{ID: t.ID, Name: t.Name, Color: t.Color})
	}
	return res
}

// ValidationToApi keeps the failure message generic whatever the cause.
func ValidationToApi(status domain.ValidationStatus) *ValidationResponse {
	res := &ValidationResponse{Status: status}
	if status == domain.ValidationFailure {
		res.Message = validationFailureMessage
	}
	return res
}

func SnapshotToApi(r *domain.Room) *SnapshotMessage {
	return &SnapshotMessage{Type: "snapshot", Room: RoomToApi(r)}
}
