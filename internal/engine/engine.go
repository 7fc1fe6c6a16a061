// Package engine holds the rules-engine collaborator boundary for the
// game coordinator. The coordinator only depends on the Engine interface;
// the bundled Maraffa implementation covers dealing, trump selection and
// turn rotation so a table is playable end to end.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotYourTurn is returned when an action arrives from a player
	// out of turn order.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrInvalidAction is returned when an action is illegal in the
	// current game phase.
	ErrInvalidAction = errors.New("invalid action")
)

// Suit is one of the four suits of the Italian 40-card deck.
type Suit string

const (
	SuitCoins  Suit = "COINS"
	SuitCups   Suit = "CUPS"
	SuitSwords Suit = "SWORDS"
	SuitClubs  Suit = "CLUBS"
)

func (s Suit) Valid() bool {
	switch s {
	case SuitCoins, SuitCups, SuitSwords, SuitClubs:
		return true
	}
	return false
}

// Card is identified on the wire by its id, 0 through 39.
// The suit is id/10, the rank id%10+1 (1 = ace, 8 = jack,
// 9 = knight, 10 = king).
type Card struct {
	Id   int  `json:"id"`
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"`
}

var suitOrder = []Suit{SuitCoins, SuitCups, SuitSwords, SuitClubs}

// CardFromId resolves a wire card id into a Card.
func CardFromId(id int) (Card, error) {
	if id < 0 || id >= deckSize {
		return Card{}, fmt.Errorf("%w: card id %d out of range", ErrInvalidAction, id)
	}

	return Card{
		Id:   id,
		Suit: suitOrder[id/10],
		Rank: id%10 + 1,
	}, nil
}

// PlayResult describes the outcome of a successful card play.
type PlayResult struct {
	Card          Card `json:"card"`
	TrickComplete bool `json:"trick_complete"`
	TrickWinner   int  `json:"trick_winner,omitempty"`
	NextTurn      int  `json:"next_turn"`
	GameOver      bool `json:"game_over"`
}

// PlayedCard records who played which card within the current trick.
type PlayedCard struct {
	AccountId int  `json:"account_id"`
	Card      Card `json:"card"`
}

// State is the full serializable engine state. It is what the save
// action snapshots and what a room restore loads.
type State struct {
	Seats     []int         `json:"seats"`
	Hands     map[int][]int `json:"hands"`
	TrumpSuit Suit          `json:"trump_suit,omitempty"`
	Turn      int           `json:"turn"`
	Trick     []PlayedCard  `json:"trick"`
	Tricks    int           `json:"tricks"`
	Phase     string        `json:"phase"`
}

// Engine is the per-game rules collaborator. Implementations are not
// safe for concurrent use; the owning room serializes all calls.
type Engine interface {
	// Start deals the hands. Seats are account ids in turn order.
	Start(seats []int) (map[int][]Card, error)
	// ChooseTrump sets the trump suit for the round. Only the lead
	// player may choose, and only before the first card.
	ChooseTrump(accountId int, suit Suit) error
	// PlayCard applies a card play for the given account.
	PlayCard(accountId, cardId int) (PlayResult, error)
	// Hand returns the account's current hand.
	Hand(accountId int) []Card
	// State snapshots the full engine state.
	State() State
	// LoadState replaces the engine state with a saved snapshot.
	LoadState(state State) error
	// Turn reports whose turn it is.
	Turn() int
	// Ended reports whether the game has finished.
	Ended() bool
}
