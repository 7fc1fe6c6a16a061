package engine

import (
	"fmt"
	"math/rand"
	"slices"
)

const (
	deckSize  = 40
	handSize  = 10
	numSeats  = 4
	trickSize = 4

	phaseIdle    = "IDLE"
	phaseTrump   = "TRUMP"
	phasePlaying = "PLAYING"
	phaseEnded   = "ENDED"
)

// cardStrength orders ranks within a suit, strongest first:
// 3, 2, ace, king, knight, jack, 7, 6, 5, 4.
var cardStrength = map[int]int{
	3: 10, 2: 9, 1: 8, 10: 7, 9: 6, 8: 5, 7: 4, 6: 3, 5: 2, 4: 1,
}

// MaraffaEngine implements Engine for the MARAFFA game type.
type MaraffaEngine struct {
	rng       *rand.Rand
	seats     []int
	hands     map[int][]Card
	trumpSuit Suit
	turnIdx   int
	trick     []PlayedCard
	tricks    int
	phase     string
}

func NewMaraffaEngine(seed int64) *MaraffaEngine {
	return &MaraffaEngine{
		rng:   rand.New(rand.NewSource(seed)),
		hands: make(map[int][]Card),
		phase: phaseIdle,
	}
}

func (e *MaraffaEngine) Start(seats []int) (map[int][]Card, error) {
	if e.phase != phaseIdle {
		return nil, fmt.Errorf("%w: game already started", ErrInvalidAction)
	}
	if len(seats) != numSeats {
		return nil, fmt.Errorf("%w: need %d seats, got %d", ErrInvalidAction, numSeats, len(seats))
	}

	deck := make([]int, deckSize)
	for i := range deck {
		deck[i] = i
	}
	e.rng.Shuffle(deckSize, func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	e.seats = slices.Clone(seats)
	for i, accountId := range e.seats {
		hand := make([]Card, 0, handSize)
		for _, id := range deck[i*handSize : (i+1)*handSize] {
			card, _ := CardFromId(id)
			hand = append(hand, card)
		}
		e.hands[accountId] = hand
	}

	e.turnIdx = 0
	e.trick = nil
	e.tricks = 0
	e.phase = phaseTrump

	hands := make(map[int][]Card, len(e.hands))
	for accountId, hand := range e.hands {
		hands[accountId] = slices.Clone(hand)
	}
	return hands, nil
}

func (e *MaraffaEngine) ChooseTrump(accountId int, suit Suit) error {
	if e.phase != phaseTrump {
		return fmt.Errorf("%w: trump suit not selectable now", ErrInvalidAction)
	}
	if accountId != e.seats[e.turnIdx] {
		return ErrNotYourTurn
	}
	if !suit.Valid() {
		return fmt.Errorf("%w: unknown suit %q", ErrInvalidAction, suit)
	}

	e.trumpSuit = suit
	e.phase = phasePlaying
	return nil
}

func (e *MaraffaEngine) PlayCard(accountId, cardId int) (PlayResult, error) {
	if e.phase != phasePlaying {
		return PlayResult{}, fmt.Errorf("%w: game not in progress", ErrInvalidAction)
	}
	if accountId != e.seats[e.turnIdx] {
		return PlayResult{}, ErrNotYourTurn
	}

	card, err := CardFromId(cardId)
	if err != nil {
		return PlayResult{}, err
	}

	hand := e.hands[accountId]
	idx := slices.IndexFunc(hand, func(c Card) bool { return c.Id == cardId })
	if idx < 0 {
		return PlayResult{}, fmt.Errorf("%w: card %d not in hand", ErrInvalidAction, cardId)
	}

	e.hands[accountId] = slices.Delete(hand, idx, idx+1)
	e.trick = append(e.trick, PlayedCard{AccountId: accountId, Card: card})

	res := PlayResult{Card: card}

	if len(e.trick) == trickSize {
		winner := e.trickWinner()
		e.tricks++
		e.trick = nil
		e.turnIdx = slices.Index(e.seats, winner)

		res.TrickComplete = true
		res.TrickWinner = winner

		if len(e.hands[winner]) == 0 {
			e.phase = phaseEnded
			res.GameOver = true
			return res, nil
		}
	} else {
		e.turnIdx = (e.turnIdx + 1) % numSeats
	}

	res.NextTurn = e.seats[e.turnIdx]
	return res, nil
}

// trickWinner picks the strongest trump card if any was played,
// otherwise the strongest card of the lead suit. The lead card seeds
// the comparison, so off-suit, non-trump cards never take the trick.
func (e *MaraffaEngine) trickWinner() int {
	best := e.trick[0]
	for _, played := range e.trick[1:] {
		if beats(played.Card, best.Card, e.trumpSuit) {
			best = played
		}
	}
	return best.AccountId
}

func beats(c, best Card, trumpSuit Suit) bool {
	if c.Suit == best.Suit {
		return cardStrength[c.Rank] > cardStrength[best.Rank]
	}
	return c.Suit == trumpSuit
}

func (e *MaraffaEngine) Hand(accountId int) []Card {
	return slices.Clone(e.hands[accountId])
}

func (e *MaraffaEngine) Turn() int {
	if len(e.seats) == 0 {
		return 0
	}
	return e.seats[e.turnIdx]
}

func (e *MaraffaEngine) Ended() bool {
	return e.phase == phaseEnded
}

func (e *MaraffaEngine) State() State {
	hands := make(map[int][]int, len(e.hands))
	for accountId, hand := range e.hands {
		ids := make([]int, len(hand))
		for i, c := range hand {
			ids[i] = c.Id
		}
		hands[accountId] = ids
	}

	return State{
		Seats:     slices.Clone(e.seats),
		Hands:     hands,
		TrumpSuit: e.trumpSuit,
		Turn:      e.Turn(),
		Trick:     slices.Clone(e.trick),
		Tricks:    e.tricks,
		Phase:     e.phase,
	}
}

func (e *MaraffaEngine) LoadState(state State) error {
	if len(state.Seats) != numSeats {
		return fmt.Errorf("%w: snapshot has %d seats", ErrInvalidAction, len(state.Seats))
	}

	hands := make(map[int][]Card, len(state.Hands))
	for accountId, ids := range state.Hands {
		hand := make([]Card, 0, len(ids))
		for _, id := range ids {
			card, err := CardFromId(id)
			if err != nil {
				return err
			}
			hand = append(hand, card)
		}
		hands[accountId] = hand
	}

	turnIdx := slices.Index(state.Seats, state.Turn)
	if turnIdx < 0 {
		return fmt.Errorf("%w: turn account %d not seated", ErrInvalidAction, state.Turn)
	}

	e.seats = slices.Clone(state.Seats)
	e.hands = hands
	e.trumpSuit = state.TrumpSuit
	e.turnIdx = turnIdx
	e.trick = slices.Clone(state.Trick)
	e.tricks = state.Tricks
	e.phase = state.Phase
	return nil
}
