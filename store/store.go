// Package store holds the shared match state: room metadata, rosters and the
// per-player counters that back the click pipeline. Two implementations exist,
// Redis for production and Memory for tests and single-node dev. Counters are
// only ever mutated through atomic increments so concurrent clicks never lose
// an update.
package store

import (
	"context"
	"time"
)

// Status is the persisted room lifecycle state. Transitions are monotonic:
// WAITING -> IN_GAME -> FINISHED, never backward.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusInGame   Status = "IN_GAME"
	StatusFinished Status = "FINISHED"
)

const (
	TeamA = "A"
	TeamB = "B"
)

// Room is the hash stored under room:<id>. ChoosingEndsAt and EndsAt are
// epoch milliseconds, zero until the match starts, and written exactly once.
type Room struct {
	RoomID         string `json:"roomId"`
	HostUserID     string `json:"hostUserId"`
	Status         Status `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	ChoosingEndsAt int64  `json:"choosingEndsAt,omitempty"`
	EndsAt         int64  `json:"endsAt,omitempty"`
}

// Player is one roster entry, stored as JSON under room:<id>:players keyed by
// userId. Team stays empty until the registry assigns one.
type Player struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Team   string `json:"team,omitempty"`
}

// Scores are the two team aggregates. Signed: some powers deal negative damage.
type Scores struct {
	A int64 `json:"A"`
	B int64 `json:"B"`
}

// Store is the shared state behind the room registry and the match engine.
// GetRoom and GetPlayer return (nil, nil) when the entity does not exist.
type Store interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// DeleteRoom removes the room hash, every per-room sub-hash and the
	// index entry.
	DeleteRoom(ctx context.Context, roomID string) error
	SetRoomStatus(ctx context.Context, roomID string, status Status) error
	SetRoomDeadlines(ctx context.Context, roomID string, choosingEndsAt, endsAt int64) error
	ListRoomIDs(ctx context.Context) ([]string, error)

	PutPlayer(ctx context.Context, roomID string, p Player) error
	GetPlayer(ctx context.Context, roomID, userID string) (*Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]Player, error)
	RemovePlayer(ctx context.Context, roomID, userID string) error

	ResetTeamScores(ctx context.Context, roomID string) error
	TeamScores(ctx context.Context, roomID string) (Scores, error)
	IncrTeamScore(ctx context.Context, roomID, team string, delta int) (int64, error)

	IncrPlayerScore(ctx context.Context, roomID, userID string, delta int) (int64, error)
	PlayerScore(ctx context.Context, roomID, userID string) (int64, error)
	ResetPlayerScores(ctx context.Context, roomID string) error

	// ApplyDamage credits delta to the player and their team in one unit of
	// work: both increments land together or not at all, so the team
	// aggregates always equal the sum of their members' personal scores.
	// Returns the player's new personal score.
	ApplyDamage(ctx context.Context, roomID, userID, team string, delta int) (int64, error)

	IncrClickCount(ctx context.Context, roomID, userID string) (int64, error)
	ResetClickCounts(ctx context.Context, roomID string) error

	SetPlayerPower(ctx context.Context, roomID, userID, powerID string) error
	PlayerPower(ctx context.Context, roomID, userID string) (string, error)
	ResetPowers(ctx context.Context, roomID string) error

	SetPlayerOffers(ctx context.Context, roomID, userID string, offers []string) error
	PlayerOffers(ctx context.Context, roomID, userID string) ([]string, error)
	ResetOffers(ctx context.Context, roomID string) error

	// LastClick returns 0 when the player has no accepted click yet.
	LastClick(ctx context.Context, roomID, userID string) (int64, error)
	SetLastClick(ctx context.Context, roomID, userID string, ts int64) error

	// ReservePseudo claims a display name for a browser. Returns false when
	// another browser already holds it. Re-reserving refreshes the TTL.
	ReservePseudo(ctx context.Context, name, browserID string, ttl time.Duration) (bool, error)
}
