package protocol

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Inbound payloads. Field constraints mirror the public contract: room ids
// are 3-32 chars, match duration 10-300 seconds. Optional roomId fields fall
// back to the connection's current room in the handler.

type RoomCreate struct {
	RoomID string `json:"roomId,omitempty" validate:"omitempty,min=3,max=32"`
}

type RoomJoin struct {
	RoomID string `json:"roomId" validate:"required,min=3,max=32"`
}

type RoomLeave struct{}

type RoomList struct {
	OnlyWaiting bool `json:"onlyWaiting,omitempty"`
}

type GameStart struct {
	RoomID      string `json:"roomId,omitempty" validate:"omitempty,min=3,max=32"`
	DurationSec int    `json:"durationSec,omitempty" validate:"omitempty,min=10,max=300"`
}

type GameChoosePower struct {
	RoomID  string `json:"roomId,omitempty" validate:"omitempty,min=3,max=32"`
	PowerID string `json:"powerId" validate:"required"`
}

type GameClick struct {
	RoomID string `json:"roomId,omitempty" validate:"omitempty,min=3,max=32"`
}

// Decode unmarshals raw into dst and checks its constraints. A nil raw
// payload decodes to the zero value, matching clients that omit the payload
// entirely. Failures map to CodeBadRequest.
func Decode(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return Err(CodeBadRequest)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return Err(CodeBadRequest)
	}
	return nil
}
