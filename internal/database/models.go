package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Game struct {
	Id        int64
	GameType  string
	State     string
	JoinCode  string
	OwnerId   int
	CreatedAt time.Time
	UpdatedAt time.Time
	Members   []Member
}

// Member ties an account to a game with an assigned team.
type Member struct {
	Id        int
	GameId    int64
	AccountId int
	Username  string
	Team      string
	CreatedAt time.Time
}

// Snapshot is a persisted game state, written by the save action.
type Snapshot struct {
	Id        int
	GameId    int64
	State     []byte
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateGameParams struct {
	GameType string
	JoinCode string
	OwnerId  int
}

type AddMemberParams struct {
	GameId    int64
	AccountId int
	Team      string
}
