package protocol

import "errors"

// Code identifies why a request was refused. Codes travel in acks only; a
// refused request never terminates the connection.
type Code string

const (
	CodeNoRoom             Code = "NO_ROOM"
	CodeRoomNotFound       Code = "ROOM_NOT_FOUND"
	CodeNotYourRoom        Code = "NOT_YOUR_ROOM"
	CodeForbiddenHostOnly  Code = "FORBIDDEN_HOST_ONLY"
	CodeRoomNotWaiting     Code = "ROOM_NOT_WAITING"
	CodeNotInGame          Code = "NOT_IN_GAME"
	CodeChoosingPhase      Code = "CHOOSING_PHASE"
	CodeChoosingPhaseEnded Code = "CHOOSING_PHASE_ENDED"
	CodeGameAlreadyEnded   Code = "GAME_ALREADY_ENDED"
	CodePlayerNotInRoom    Code = "PLAYER_NOT_IN_ROOM"
	CodePlayerNoTeam       Code = "PLAYER_NO_TEAM"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodePowerNotOffered    Code = "POWER_NOT_OFFERED"

	// CodeBadRequest covers malformed or out-of-range payloads.
	CodeBadRequest Code = "BAD_REQUEST"
	// CodeInternal covers store or marshalling failures; clients retry the
	// user action, the server never retries on its own.
	CodeInternal Code = "INTERNAL"
)

// CodeError is a refusal from the domain layer.
type CodeError struct {
	Code Code
}

func (e *CodeError) Error() string { return string(e.Code) }

// Err wraps a code as an error.
func Err(code Code) error { return &CodeError{Code: code} }

// CodeOf extracts the refusal code from err, or CodeInternal for anything
// that is not a CodeError.
func CodeOf(err error) Code {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
