package types

import (
	"time"
)

// GameType identifies the rule set a game is played under.
type GameType string

const (
	GameTypeMaraffa GameType = "MARAFFA"
)

// Seats returns the total number of seats for the game type,
// or 0 if the type is unknown.
func (gt GameType) Seats() int {
	if gt == GameTypeMaraffa {
		return 4
	}
	return 0
}

func (gt GameType) Valid() bool {
	return gt == GameTypeMaraffa
}

// TeamCapacity returns the number of seats per team.
func (gt GameType) TeamCapacity() int {
	if gt == GameTypeMaraffa {
		return 2
	}
	return 0
}

// Team is one of the two fixed sides of a game.
type Team string

const (
	TeamRed  Team = "RED"
	TeamBlue Team = "BLUE"
)

func (t Team) Valid() bool {
	return t == TeamRed || t == TeamBlue
}

// RoomState is the lifecycle state of a game room.
type RoomState string

const (
	RoomStateCreated      RoomState = "CREATED"
	RoomStateReady        RoomState = "READY"
	RoomStateStarted      RoomState = "STARTED"
	RoomStateReconnecting RoomState = "RECONNECTING"
	RoomStateEnded        RoomState = "ENDED"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Member is an account's participation in one game room.
type Member struct {
	AccountId int    `json:"account_id"`
	Username  string `json:"username"`
	Team      Team   `json:"team"`
	Online    bool   `json:"online"`
}

type Room struct {
	Id        int64     `json:"id"`
	GameType  GameType  `json:"game_type"`
	State     RoomState `json:"state"`
	OwnerId   int       `json:"owner_id"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
