package domain

import (
	"time"
)

// DefaultRoomLifetime is how long a room lives before the store may expire it.
const DefaultRoomLifetime = 24 * time.Hour

// Room is the shared buzzer state for one question session.
// It is the only document kept in the room store and is keyed by RoomCode.
type Room struct {
	RoomCode         string
	IsBuzzerActive   bool
	BuzzedInTeamID   *string
	BuzzedInTeamName *string
	BuzzedTimestamp  int64
	ExpiresAt        time.Time

	// Revision is assigned by the store on every committed write.
	Revision int64
}

// NewRoom constructs an open room with no buzzed team.
func NewRoom(code string, lifetime time.Duration) *Room {
	room := &Room{
		RoomCode:       code,
		IsBuzzerActive: true,
	}

	if lifetime > 0 {
		room.ExpiresAt = time.Now().UTC().Add(lifetime)
	}

	return room
}

// IsExpired reports whether the room passed its expiry time.
func (r *Room) IsExpired() bool {
	return r.ExpiredAt(time.Now().UTC())
}

// ExpiredAt reports whether the room is expired at the given instant.
func (r *Room) ExpiredAt(now time.Time) bool {
	if r == nil {
		return true
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.BuzzedInTeamID != nil {
		id := *r.BuzzedInTeamID
		c.BuzzedInTeamID = &id
	}
	if r.BuzzedInTeamName != nil {
		name := *r.BuzzedInTeamName
		c.BuzzedInTeamName = &name
	}
	return &c
}

// RoomUpdate is a partial write against a room document.
// Nil fields are left untouched.
type RoomUpdate struct {
	IsBuzzerActive  *bool
	BuzzedTeam      *Team
	ClearBuzzedTeam bool
	BuzzedTimestamp *int64
}

// BuzzUpdate locks the buzzer for the given team.
func BuzzUpdate(team Team, at time.Time) RoomUpdate {
	active := false
	ts := at.UnixMilli()
	return RoomUpdate{
		IsBuzzerActive:  &active,
		BuzzedTeam:      &team,
		BuzzedTimestamp: &ts,
	}
}

// ResetUpdate reopens the buzzer and clears the buzzed team.
// BuzzedTimestamp is intentionally not part of it.
func ResetUpdate() RoomUpdate {
	active := true
	return RoomUpdate{
		IsBuzzerActive:  &active,
		ClearBuzzedTeam: true,
	}
}

// Apply writes the update into room.
func (u RoomUpdate) Apply(room *Room) {
	if room == nil {
		return
	}
	if u.IsBuzzerActive != nil {
		room.IsBuzzerActive = *u.IsBuzzerActive
	}
	if u.ClearBuzzedTeam {
		room.BuzzedInTeamID = nil
		room.BuzzedInTeamName = nil
	}
	if u.BuzzedTeam != nil {
		id, name := u.BuzzedTeam.ID, u.BuzzedTeam.Name
		room.BuzzedInTeamID = &id
		room.BuzzedInTeamName = &name
	}
	if u.BuzzedTimestamp != nil {
		room.BuzzedTimestamp = *u.BuzzedTimestamp
	}
}

// Snapshot is one push from a room subscription.
// Exists is false when the document is missing or was deleted.
// Err carries a subscription error; the stream keeps going after it.
// Revision orders snapshots of one document; it equals Room.Revision when
// the document exists.
type Snapshot struct {
	Room     *Room
	Exists   bool
	Revision int64
	Err      error
}

// PresentSnapshot wraps an existing room.
func PresentSnapshot(room *Room) Snapshot {
	return Snapshot{Room: room, Exists: true, Revision: room.Revision}
}

// AbsentSnapshot signals a missing or deleted document.
func AbsentSnapshot(revision int64) Snapshot {
	return Snapshot{Revision: revision}
}
