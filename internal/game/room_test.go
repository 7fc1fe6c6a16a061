package game

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/engine"
	"github.com/maraffa-online/maraffa-server/internal/testutil"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

// newTestRoom builds a room whose handlers are invoked directly, so
// tests stay synchronous and deterministic.
func newTestRoom(t *testing.T, gs *GameServer, state types.RoomState, members []types.Member) *Room {
	return &Room{
		id:        1,
		gameType:  types.GameTypeMaraffa,
		joinCode:  "abc123",
		ownerId:   1,
		state:     state,
		members:   members,
		eng:       engine.NewMaraffaEngine(1),
		gs:        gs,
		db:        gs.db,
		log:       testutil.TestLogger(t),
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[int]map[*Client]struct{}),
		killTimer: time.NewTimer(time.Hour),
		exit:      make(chan exitReq, 1),
		done:      make(chan struct{}),
	}
}

func roomMembers() []types.Member {
	return []types.Member{
		{AccountId: 1, Username: "p1", Team: types.TeamRed},
		{AccountId: 2, Username: "p2", Team: types.TeamRed},
		{AccountId: 3, Username: "p3", Team: types.TeamBlue},
		{AccountId: 4, Username: "p4", Team: types.TeamBlue},
	}
}

// attach subscribes a client to the room's topic directly.
func attach(r *Room, c *Client) {
	c.topicSubs[r.id] = "sub-" + c.user.Username
	r.handleSubscribe(c)
}

func recvQueued(t *testing.T, c *Client) *Event {
	t.Helper()

	select {
	case f := <-c.send:
		var ev Event
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return &ev
	default:
		t.Fatal("expected a queued event")
	}
	return nil
}

func TestRoomExit_drainsPending(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateStarted, roomMembers())
	r.subscribeChan = make(chan *subscribeReq, roomChanBuffer)
	r.joinChan = make(chan *joinRequest, roomChanBuffer)
	r.actionChan = make(chan *actionRequest, roomChanBuffer)

	c := newTestClient(t, gs, 2, "p2")
	sub := &subscribeReq{client: newTestClient(t, gs, 3, "p3"), done: make(chan error, 1)}
	r.subscribeChan <- sub
	join := &joinRequest{accountId: 5, username: "p5", team: types.TeamBlue, joinCode: "abc123", reply: make(chan error, 1)}
	r.joinChan <- join
	r.actionChan <- &actionRequest{action: ActionSave, accountId: 2, client: c}

	r.handleExit(exitReq{})

	assert.ErrorIs(t, <-sub.done, ErrUnavailable, "expected the queued subscribe to be refused")
	assert.ErrorIs(t, <-join.reply, ErrUnavailable, "expected the queued join to be refused")

	ev := recvQueued(t, c)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, CodeUnavailable, ev.Error.Code)

	select {
	case <-r.done:
	default:
		t.Fatal("expected done to be closed")
	}
}

func TestRoomHandleJoin(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	db.On("AddMember", database.AddMemberParams{GameId: 1, AccountId: 2, Team: "BLUE"}).
		Return(database.Member{GameId: 1, AccountId: 2, Team: "BLUE"}, nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateCreated, roomMembers()[:1])

	c := newTestClient(t, gs, 1, "p1")
	attach(r, c)

	join := &joinRequest{accountId: 2, username: "p2", team: types.TeamBlue, joinCode: "abc123", reply: make(chan error, 1)}
	r.handleJoin(join)

	assert.NoError(t, <-join.reply)
	assert.Len(t, r.members, 2)
	assert.Equal(t, types.RoomStateCreated, r.state)

	ev := recvQueued(t, c)
	assert.Equal(t, EventMemberJoined, ev.Type)
	assert.Equal(t, 2, ev.MemberJoined.Member.AccountId)
}

func TestRoomHandleJoin_lastSeat(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	db.On("AddMember", database.AddMemberParams{GameId: 1, AccountId: 4, Team: "BLUE"}).
		Return(database.Member{GameId: 1, AccountId: 4, Team: "BLUE"}, nil).Once()
	db.On("UpdateGameState", int64(1), "READY").Return(nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateCreated, roomMembers()[:3])

	join := &joinRequest{accountId: 4, username: "p4", team: types.TeamBlue, joinCode: "abc123", reply: make(chan error, 1)}
	r.handleJoin(join)

	assert.NoError(t, <-join.reply)
	assert.Equal(t, types.RoomStateReady, r.state)
}

func TestRoomHandleJoin_errors(t *testing.T) {
	tests := []struct {
		name    string
		state   types.RoomState
		join    *joinRequest
		wantErr *GameError
	}{
		{
			name:    "wrong join code",
			state:   types.RoomStateCreated,
			join:    &joinRequest{accountId: 2, username: "p2", team: types.TeamBlue, joinCode: "nope"},
			wantErr: ErrWrongJoinCode,
		},
		{
			name:    "already a member",
			state:   types.RoomStateCreated,
			join:    &joinRequest{accountId: 1, username: "p1", team: types.TeamRed, joinCode: "abc123"},
			wantErr: ErrAlreadyMember,
		},
		{
			name:    "started game rejects joins",
			state:   types.RoomStateStarted,
			join:    &joinRequest{accountId: 2, username: "p2", team: types.TeamBlue, joinCode: "abc123"},
			wantErr: ErrAlreadyStarted,
		},
		{
			name:    "ready room is full",
			state:   types.RoomStateReady,
			join:    &joinRequest{accountId: 5, username: "p5", team: types.TeamBlue, joinCode: "abc123"},
			wantErr: ErrCapacityExceeded,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gs := newTestGameServer(t, &database.MockRepository{})
			r := newTestRoom(t, gs, tc.state, roomMembers()[:1])

			tc.join.reply = make(chan error, 1)
			r.handleJoin(tc.join)
			assert.ErrorIs(t, <-tc.join.reply, tc.wantErr)
		})
	}
}

func TestRoomHandleJoin_teamFull(t *testing.T) {
	gs := newTestGameServer(t, &database.MockRepository{})
	r := newTestRoom(t, gs, types.RoomStateCreated, roomMembers()[:2])

	join := &joinRequest{accountId: 3, username: "p3", team: types.TeamRed, joinCode: "abc123", reply: make(chan error, 1)}
	r.handleJoin(join)
	assert.ErrorIs(t, <-join.reply, ErrCapacityExceeded)
}

func startedRoom(t *testing.T, db *database.MockRepository) (*Room, *Client) {
	db.On("UpdateGameState", int64(1), "STARTED").Return(nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateReady, roomMembers())

	c1 := newTestClient(t, gs, 1, "p1")
	gs.RegisterClient(c1)
	attach(r, c1)

	r.handleAction(&actionRequest{action: ActionStart, accountId: 1, client: c1})

	started := recvQueued(t, c1)
	assert.Equal(t, EventGameStarted, started.Type)
	hand := recvQueued(t, c1)
	assert.Equal(t, EventHandDealt, hand.Type)

	return r, c1
}

func TestRoomStart(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("UpdateGameState", int64(1), "STARTED").Return(nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateReady, roomMembers())

	c1 := newTestClient(t, gs, 1, "p1")
	gs.RegisterClient(c1)
	attach(r, c1)

	r.handleAction(&actionRequest{action: ActionStart, accountId: 1, client: c1})
	assert.Equal(t, types.RoomStateStarted, r.state)

	ev := recvQueued(t, c1)
	assert.Equal(t, EventGameStarted, ev.Type)
	assert.Equal(t, 1, ev.GameStarted.FirstTurn, "join order decides turn order")
	assert.Len(t, ev.GameStarted.Members, 4)

	hand := recvQueued(t, c1)
	assert.Equal(t, EventHandDealt, hand.Type)
	assert.Len(t, hand.HandDealt.Cards, 10)
	assert.Equal(t, 1, hand.HandDealt.TrumpChooser)
}

func TestRoomStart_errors(t *testing.T) {
	tests := []struct {
		name      string
		state     types.RoomState
		accountId int
		wantCode  Code
	}{
		{name: "not owner", state: types.RoomStateReady, accountId: 2, wantCode: CodeNotOwner},
		{name: "not ready", state: types.RoomStateCreated, accountId: 1, wantCode: CodeNotReady},
		{name: "already started", state: types.RoomStateStarted, accountId: 1, wantCode: CodeAlreadyStarted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gs := newTestGameServer(t, &database.MockRepository{})
			r := newTestRoom(t, gs, tc.state, roomMembers())

			c := newTestClient(t, gs, tc.accountId, fmt.Sprintf("p%d", tc.accountId))
			r.handleAction(&actionRequest{action: ActionStart, accountId: tc.accountId, client: c})

			ev := recvQueued(t, c)
			assert.Equal(t, EventError, ev.Type)
			assert.Equal(t, tc.wantCode, ev.Error.Code)
		})
	}
}

func TestRoomPlay(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	r, c1 := startedRoom(t, db)
	c2 := newTestClient(t, r.gs, 2, "p2")
	attach(r, c2)
	recvQueued(t, c1) // presence for p2 coming online

	// only the lead player picks trump
	r.handleAction(&actionRequest{action: ActionSuit, accountId: 2, client: c2, payload: []byte(`{"trumpSuit":"CUPS"}`)})
	ev := recvQueued(t, c2)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, CodeNotYourTurn, ev.Error.Code)

	r.handleAction(&actionRequest{action: ActionSuit, accountId: 1, client: c1, payload: []byte(`{"trumpSuit":"CUPS"}`)})
	ev = recvQueued(t, c1)
	assert.Equal(t, EventTrumpChosen, ev.Type)
	assert.Equal(t, engine.SuitCups, ev.TrumpChosen.TrumpSuit)
	recvQueued(t, c2) // same broadcast

	// a card played out of turn is rejected
	r.handleAction(&actionRequest{action: ActionCard, accountId: 2, client: c2, payload: []byte(`{"cardId":"0"}`)})
	ev = recvQueued(t, c2)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, CodeNotYourTurn, ev.Error.Code)

	cardId := r.eng.Hand(1)[0].Id
	r.handleAction(&actionRequest{
		action: ActionCard, accountId: 1, client: c1,
		payload: []byte(fmt.Sprintf(`{"cardId":"%d"}`, cardId)),
	})
	ev = recvQueued(t, c1)
	assert.Equal(t, EventCardPlayed, ev.Type)
	assert.Equal(t, cardId, ev.CardPlayed.Card.Id)
	assert.False(t, ev.CardPlayed.TrickComplete)
	assert.Equal(t, 2, ev.CardPlayed.NextTurn)
}

func TestRoomPlay_malformedPayload(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	r, c1 := startedRoom(t, db)

	r.handleAction(&actionRequest{action: ActionCard, accountId: 1, client: c1, payload: []byte(`{"cardId":"x"}`)})
	ev := recvQueued(t, c1)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, CodeInvalidAction, ev.Error.Code)
}

func TestRoomSave(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("CreateSnapshot", mock.AnythingOfType("database.Snapshot")).Return(nil).Once()

	r, c1 := startedRoom(t, db)

	r.handleAction(&actionRequest{action: ActionSave, accountId: 1, client: c1})

	ev := recvQueued(t, c1)
	assert.Equal(t, EventSaved, ev.Type)
	assert.False(t, ev.Saved.SavedAt.IsZero())

	snap := db.Calls[len(db.Calls)-1].Arguments.Get(0).(database.Snapshot)
	assert.Equal(t, int64(1), snap.GameId)

	var doc savedState
	assert.NoError(t, json.Unmarshal(snap.State, &doc))
	assert.Equal(t, []int{1, 2, 3, 4}, doc.Engine.Seats)
	assert.Len(t, doc.Engine.Hands[1], 10)
}

func TestRoomSave_errors(t *testing.T) {
	t.Run("not owner", func(t *testing.T) {
		db := &database.MockRepository{}
		r, _ := startedRoom(t, db)

		c2 := newTestClient(t, r.gs, 2, "p2")
		r.handleAction(&actionRequest{action: ActionSave, accountId: 2, client: c2})

		ev := recvQueued(t, c2)
		assert.Equal(t, CodeNotOwner, ev.Error.Code)
	})

	t.Run("not started", func(t *testing.T) {
		gs := newTestGameServer(t, &database.MockRepository{})
		r := newTestRoom(t, gs, types.RoomStateReady, roomMembers())

		c1 := newTestClient(t, gs, 1, "p1")
		r.handleAction(&actionRequest{action: ActionSave, accountId: 1, client: c1})

		ev := recvQueued(t, c1)
		assert.Equal(t, CodeNotStarted, ev.Error.Code)
	})
}

func TestRoomReconnect(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("UpdateGameState", int64(1), "STARTED").Return(nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateReconnecting, roomMembers())
	assert.NoError(t, r.eng.LoadState(engine.State{
		Seats: []int{1, 2, 3, 4},
		Hands: map[int][]int{1: {0, 1}, 2: {10}, 3: {20}, 4: {30}},
		Turn:  1,
		Phase: "PLAYING",
	}))

	c2 := newTestClient(t, gs, 2, "p2")
	r.handleAction(&actionRequest{action: ActionReconnect, accountId: 2, client: c2})

	assert.Equal(t, types.RoomStateStarted, r.state, "reconnect restores a reconnecting game")

	ev := recvQueued(t, c2)
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Equal(t, types.RoomStateStarted, ev.Snapshot.State)
	assert.Len(t, ev.Snapshot.Hand, 1, "only the caller's own hand is included")
	assert.Equal(t, 1, ev.Snapshot.Turn)
}

func TestRoomReconnect_notAMember(t *testing.T) {
	gs := newTestGameServer(t, &database.MockRepository{})
	r := newTestRoom(t, gs, types.RoomStateStarted, roomMembers())

	c := newTestClient(t, gs, 9, "p9")
	r.handleAction(&actionRequest{action: ActionReconnect, accountId: 9, client: c})

	ev := recvQueued(t, c)
	assert.Equal(t, CodeNotAMember, ev.Error.Code)
}

func TestRoomUnsubscribe_marksReconnecting(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	r, c1 := startedRoom(t, db)
	c2 := newTestClient(t, r.gs, 2, "p2")
	attach(r, c2)
	recvQueued(t, c1) // presence for p2 coming online

	db.On("UpdateGameState", int64(1), "RECONNECTING").Return(nil).Once()

	r.handleUnsubscribe(c2)

	assert.Equal(t, types.RoomStateReconnecting, r.state)

	ev := recvQueued(t, c1)
	assert.Equal(t, EventPresence, ev.Type)
	assert.Equal(t, 2, ev.Presence.AccountId)
	assert.False(t, ev.Presence.Online)
	assert.Equal(t, types.RoomStateReconnecting, ev.Presence.State)
}

func TestRoomGameOver(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	db.On("UpdateGameState", int64(1), "ENDED").Return(nil).Once()

	gs := newTestGameServer(t, db)
	r := newTestRoom(t, gs, types.RoomStateStarted, roomMembers())
	assert.NoError(t, r.eng.LoadState(engine.State{
		Seats:     []int{1, 2, 3, 4},
		Hands:     map[int][]int{1: {5}, 2: {15}, 3: {25}, 4: {35}},
		TrumpSuit: engine.SuitCoins,
		Turn:      1,
		Tricks:    9,
		Phase:     "PLAYING",
	}))

	clients := make(map[int]*Client)
	for id := 1; id <= 4; id++ {
		c := newTestClient(t, gs, id, fmt.Sprintf("p%d", id))
		attach(r, c)
		clients[id] = c
	}
	// drain presence broadcasts from attaching
	for id := 1; id <= 4; id++ {
		for len(clients[id].send) > 0 {
			<-clients[id].send
		}
	}

	for id := 1; id <= 4; id++ {
		r.handleAction(&actionRequest{
			action: ActionCard, accountId: id, client: clients[id],
			payload: []byte(fmt.Sprintf(`{"cardId":%d}`, (id-1)*10+5)),
		})
	}

	assert.Equal(t, types.RoomStateEnded, r.state)

	var sawGameEnded bool
	for len(clients[1].send) > 0 {
		ev := recvQueued(t, clients[1])
		if ev.Type == EventGameEnded {
			sawGameEnded = true
			assert.Equal(t, 10, ev.GameEnded.Tricks)
		}
	}
	assert.True(t, sawGameEnded, "expected a game_ended event")
}
