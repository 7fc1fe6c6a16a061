package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/maraffa-online/maraffa-server/internal/engine"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

// Event is an immutable notification of a game state change, delivered
// on the game's public topic or on a single account's private queue.
type Event struct {
	Id        string    `json:"id"`
	Type      string    `json:"type"`
	GameId    int64     `json:"game_id"`
	Timestamp time.Time `json:"timestamp"`

	MemberJoined *MemberJoined `json:"member_joined,omitempty"`
	GameStarted  *GameStarted  `json:"game_started,omitempty"`
	HandDealt    *HandDealt    `json:"hand_dealt,omitempty"`
	TrumpChosen  *TrumpChosen  `json:"trump_chosen,omitempty"`
	CardPlayed   *CardPlayed   `json:"card_played,omitempty"`
	Presence     *Presence     `json:"presence,omitempty"`
	GameEnded    *GameEnded    `json:"game_ended,omitempty"`
	GameDeleted  *GameDeleted  `json:"game_deleted,omitempty"`
	Snapshot     *Snapshot     `json:"snapshot,omitempty"`
	Saved        *Saved        `json:"saved,omitempty"`
	Error        *ErrorEvent   `json:"error,omitempty"`
}

const (
	EventMemberJoined = "member_joined"
	EventGameStarted  = "game_started"
	EventHandDealt    = "hand_dealt"
	EventTrumpChosen  = "trump_chosen"
	EventCardPlayed   = "card_played"
	EventPresence     = "presence"
	EventGameEnded    = "game_ended"
	EventGameDeleted  = "game_deleted"
	EventSnapshot     = "snapshot"
	EventSaved        = "saved"
	EventError        = "error"
)

type MemberJoined struct {
	Member types.Member    `json:"member"`
	State  types.RoomState `json:"state"`
}

type GameStarted struct {
	Members   []types.Member `json:"members"`
	FirstTurn int            `json:"first_turn"`
}

// HandDealt is private: each player sees only their own cards. The
// trump chooser is the player expected to pick the suit before play.
type HandDealt struct {
	Cards        []engine.Card `json:"cards"`
	TrumpChooser int           `json:"trump_chooser"`
}

type TrumpChosen struct {
	AccountId int         `json:"account_id"`
	TrumpSuit engine.Suit `json:"trump_suit"`
}

type CardPlayed struct {
	AccountId     int         `json:"account_id"`
	Card          engine.Card `json:"card"`
	TrickComplete bool        `json:"trick_complete"`
	TrickWinner   int         `json:"trick_winner,omitempty"`
	NextTurn      int         `json:"next_turn,omitempty"`
}

type Presence struct {
	AccountId int             `json:"account_id"`
	Online    bool            `json:"online"`
	State     types.RoomState `json:"state"`
}

type GameEnded struct {
	Tricks int `json:"tricks"`
}

type GameDeleted struct{}

// Snapshot is private: the full current state as visible to one member.
type Snapshot struct {
	State     types.RoomState     `json:"state"`
	Members   []types.Member      `json:"members"`
	Hand      []engine.Card       `json:"hand,omitempty"`
	TrumpSuit engine.Suit         `json:"trump_suit,omitempty"`
	Turn      int                 `json:"turn,omitempty"`
	Trick     []engine.PlayedCard `json:"trick,omitempty"`
}

type Saved struct {
	SavedAt time.Time `json:"saved_at"`
}

type ErrorEvent struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func newEvent(gameId int64, eventType string) *Event {
	return &Event{
		Id:        uuid.New().String(),
		Type:      eventType,
		GameId:    gameId,
		Timestamp: Now(),
	}
}

func newErrorEvent(gameId int64, gerr *GameError) *Event {
	ev := newEvent(gameId, EventError)
	ev.Error = &ErrorEvent{Code: gerr.Code, Message: gerr.Message}
	return ev
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
