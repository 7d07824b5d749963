// Package protocol defines the wire contract between the server and its
// clients: one typed request per inbound event, one typed payload per
// outbound event, the closed refusal-code set, and the schema validation
// applied at the boundary.
package protocol

import (
	"encoding/json"

	"github.com/clickbattle-gg/backend/store"
)

// Inbound event names.
const (
	ReqRoomCreate  = "room:create"
	ReqRoomJoin    = "room:join"
	ReqRoomLeave   = "room:leave"
	ReqRoomList    = "room:list"
	ReqGameStart   = "game:start"
	ReqGameChoose  = "game:choosePower"
	ReqGameClick   = "game:click"
)

// Outbound event names.
const (
	EvtRoomUpdate     = "room:update"
	EvtRoomDeleted    = "room:deleted"
	EvtRoomListUpdate = "room:list:update"
	EvtMyTeam         = "game:myTeam"
	EvtChoosing       = "game:choosing"
	EvtOffers         = "game:offers"
	EvtPlay           = "game:play"
	EvtTimer          = "game:timer"
	EvtScoreUpdate    = "game:score:update"
	EvtPersonalScore  = "game:personalScore:update"
	EvtEnd            = "game:end"
)

// Match phases as broadcast in game:timer.
const (
	PhaseChoosing = "CHOOSING"
	PhasePlaying  = "PLAYING"
)

// Request is the inbound envelope. Seq is echoed in the ack so the client can
// pair them.
type Request struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Ack answers exactly one Request.
type Ack struct {
	Type  string `json:"type"` // always "ack"
	Seq   uint64 `json:"seq"`
	OK    bool   `json:"ok"`
	Error Code   `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Event is the outbound broadcast envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// RoomDeletedReasonHostLeft is the only deletion reason broadcast to members;
// empty-room deletions are silent.
const RoomDeletedReasonHostLeft = "HOST_LEFT"

// Outbound payloads.

type RoomUpdate struct {
	Room    *store.Room    `json:"room"`
	Players []store.Player `json:"players"`
}

type RoomDeleted struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// RoomEntry is one row of a room listing.
type RoomEntry struct {
	Room    *store.Room    `json:"room"`
	Players []store.Player `json:"players"`
}

type RoomListUpdate struct {
	Rooms []RoomEntry `json:"rooms"`
}

type MyTeam struct {
	Team string `json:"team"`
}

type Choosing struct {
	RoomID         string `json:"roomId"`
	ChoosingEndsAt int64  `json:"choosingEndsAt"`
	EndsAt         int64  `json:"endsAt"`
	DurationMs     int64  `json:"durationMs"`
}

type Offers struct {
	RoomID string   `json:"roomId"`
	Offers []string `json:"offers"`
}

type Play struct {
	RoomID     string `json:"roomId"`
	EndsAt     int64  `json:"endsAt"`
	DurationMs int64  `json:"durationMs"`
}

type Timer struct {
	RoomID     string `json:"roomId"`
	Phase      string `json:"phase"`
	TimeLeftMs int64  `json:"timeLeftMs"`
	EndsAt     int64  `json:"endsAt,omitempty"`
}

type ScoreUpdate struct {
	RoomID string       `json:"roomId"`
	Scores store.Scores `json:"scores"`
}

type PersonalScore struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	PersonalScore int64  `json:"personalScore"`
}

type End struct {
	RoomID string       `json:"roomId"`
	Scores store.Scores `json:"scores"`
	Winner string       `json:"winner"` // "A", "B" or "DRAW"
}

// Emitter fans events out to connections. Implemented by the websocket hub;
// tests substitute a recording fake.
type Emitter interface {
	// ToRoom sends to every connection currently joined to the room.
	ToRoom(roomID, event string, payload any)
	// ToUser sends privately to every connection authenticated as userID.
	ToUser(userID, event string, payload any)
	// ToLobby sends to every authenticated connection.
	ToLobby(event string, payload any)
}
