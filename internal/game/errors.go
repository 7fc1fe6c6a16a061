package game

import "fmt"

// Code identifies a coordinator failure so clients can branch on it.
type Code string

const (
	CodeRoomNotFound     Code = "ROOM_NOT_FOUND"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeWrongJoinCode    Code = "WRONG_JOIN_CODE"
	CodeAlreadyMember    Code = "ALREADY_MEMBER"
	CodeNotAMember       Code = "NOT_A_MEMBER"
	CodeNotOwner         Code = "NOT_OWNER"
	CodeNotReady         Code = "NOT_READY"
	CodeAlreadyStarted   Code = "ALREADY_STARTED"
	CodeNotStarted       Code = "NOT_STARTED"
	CodeNotYourTurn      Code = "NOT_YOUR_TURN"
	CodeInvalidAction    Code = "INVALID_ACTION"
	CodeActionFailed     Code = "ACTION_FAILED"
	CodeUnavailable      Code = "UNAVAILABLE"
)

type GameError struct {
	Code    Code
	Message string
	Err     error
}

func (e *GameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GameError) Unwrap() error {
	return e.Err
}

var (
	ErrRoomNotFound     = &GameError{Code: CodeRoomNotFound, Message: "game not found"}
	ErrCapacityExceeded = &GameError{Code: CodeCapacityExceeded, Message: "team is full"}
	ErrWrongJoinCode    = &GameError{Code: CodeWrongJoinCode, Message: "wrong join code"}
	ErrAlreadyMember    = &GameError{Code: CodeAlreadyMember, Message: "already a member of this game"}
	ErrNotAMember       = &GameError{Code: CodeNotAMember, Message: "not a member of this game"}
	ErrNotOwner         = &GameError{Code: CodeNotOwner, Message: "only the owner may do this"}
	ErrNotReady         = &GameError{Code: CodeNotReady, Message: "not all seats are filled"}
	ErrAlreadyStarted   = &GameError{Code: CodeAlreadyStarted, Message: "game already started"}
	ErrNotStarted       = &GameError{Code: CodeNotStarted, Message: "game not started"}
	ErrUnavailable      = &GameError{Code: CodeUnavailable, Message: "service unavailable"}
)

// ActionFailed wraps a downstream collaborator failure surfaced to
// the caller of a game action.
func ActionFailed(err error) *GameError {
	return &GameError{Code: CodeActionFailed, Message: "action failed", Err: err}
}
