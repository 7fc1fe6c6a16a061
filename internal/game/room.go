package game

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/engine"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

// idleRoomTimeout unloads a room from memory once no connection has
// been attached for this long. Game state survives in the database.
const idleRoomTimeout = time.Minute

type exitReq struct {
	deleted bool
}

type unloadRequest struct {
	roomId  int64
	deleted bool
}

// subscribeReq attaches a connection to the room. The room answers on
// done once the client is wired in, so a caller can rely on seeing
// every event published after its subscribe returns. A room that
// exits before attaching answers ErrUnavailable instead.
type subscribeReq struct {
	client *Client
	done   chan error
}

// joinRequest is a membership request arriving over HTTP. The reply
// channel carries the validation outcome back to the handler.
type joinRequest struct {
	accountId int
	username  string
	team      types.Team
	joinCode  string
	reply     chan error
}

// actionRequest is a game action arriving over the event channel.
type actionRequest struct {
	action    string
	accountId int
	client    *Client
	payload   json.RawMessage
}

// intValue accepts both 5 and "5"; browser clients serialize form
// values as strings.
type intValue int

func (v *intValue) UnmarshalJSON(b []byte) error {
	n, err := strconv.Atoi(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*v = intValue(n)
	return nil
}

type cardPayload struct {
	CardId intValue `json:"cardId"`
}

type suitPayload struct {
	TrumpSuit string `json:"trumpSuit"`
}

// savedState is the document persisted by the save action and read
// back when a running game is reloaded from the database.
type savedState struct {
	Engine  engine.State   `json:"engine"`
	Members []types.Member `json:"members"`
	SavedAt time.Time      `json:"saved_at"`
}

// Room owns one game's membership, lifecycle state and engine. All
// mutation flows through the run loop, so state-changing operations
// are serialized per room and public events keep publish order.
type Room struct {
	id       int64
	gameType types.GameType
	joinCode string
	ownerId  int
	state    types.RoomState
	members  []types.Member
	eng      engine.Engine
	gs       *GameServer
	db       database.Repository
	log      *log.Logger

	clients map[*Client]struct{}
	userMap map[int]map[*Client]struct{}

	subscribeChan   chan *subscribeReq
	unsubscribeChan chan *Client
	joinChan        chan *joinRequest
	actionChan      chan *actionRequest
	exit            chan exitReq
	done            chan struct{}
	killTimer       *time.Timer
}

func (r *Room) run() {
	r.log.Printf("starting room %d", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case req := <-r.subscribeChan:
			r.handleSubscribe(req.client)
			req.done <- nil
		case c := <-r.unsubscribeChan:
			r.handleUnsubscribe(c)
		case join := <-r.joinChan:
			r.handleJoin(join)
		case act := <-r.actionChan:
			r.handleAction(act)
		case <-r.killTimer.C:
			r.handleTimeout()
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

func (r *Room) handleTimeout() {
	if len(r.clients) > 0 {
		return
	}

	r.log.Printf("room %d idle, requesting unload", r.id)
	select {
	case r.gs.unloadRoomChan <- unloadRequest{roomId: r.id}:
	default:
		r.log.Printf("unload channel full for room %d", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleExit(e exitReq) {
	r.log.Printf("room %d is exiting", r.id)
	if e.deleted {
		ev := newEvent(r.id, EventGameDeleted)
		ev.GameDeleted = &GameDeleted{}
		r.broadcast(ev, nil)
	}

	r.drainPending()
	close(r.done)
}

// drainPending answers every request still queued when the room
// exits. Pending subscribers and joins are refused, pending actions
// get a private error event, so no caller hangs on a room that no
// longer runs and no acknowledged action vanishes without a trace.
func (r *Room) drainPending() {
	for {
		select {
		case req := <-r.subscribeChan:
			req.done <- ErrUnavailable
		case join := <-r.joinChan:
			join.reply <- ErrUnavailable
		case act := <-r.actionChan:
			act.client.queueEvent(newErrorEvent(r.id, ErrUnavailable), r.id, true)
		default:
			return
		}
	}
}

func (r *Room) handleSubscribe(c *Client) {
	r.killTimer.Stop()

	r.clients[c] = struct{}{}
	firstForUser := r.userMap[c.user.Id] == nil
	if firstForUser {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	if firstForUser && r.setMemberOnline(c.user.Id, true) {
		ev := newEvent(r.id, EventPresence)
		ev.Presence = &Presence{AccountId: c.user.Id, Online: true, State: r.state}
		r.broadcast(ev, c)
	}
}

func (r *Room) handleUnsubscribe(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	// last connection for this account gone
	if r.userMap[c.user.Id] == nil && r.setMemberOnline(c.user.Id, false) {
		if r.state == types.RoomStateStarted {
			r.transition(types.RoomStateReconnecting)
		}

		ev := newEvent(r.id, EventPresence)
		ev.Presence = &Presence{AccountId: c.user.Id, Online: false, State: r.state}
		r.broadcast(ev, c)
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in room %d, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleJoin validates and commits a membership in one step, so
// concurrent joins can never both pass the capacity check.
func (r *Room) handleJoin(join *joinRequest) {
	if r.state != types.RoomStateCreated {
		if r.state == types.RoomStateReady {
			join.reply <- ErrCapacityExceeded
		} else {
			join.reply <- ErrAlreadyStarted
		}
		return
	}

	if r.findMember(join.accountId) != nil {
		join.reply <- ErrAlreadyMember
		return
	}

	if r.joinCode != "" && join.joinCode != r.joinCode {
		join.reply <- ErrWrongJoinCode
		return
	}

	if r.teamCount(join.team) >= r.gameType.TeamCapacity() {
		join.reply <- ErrCapacityExceeded
		return
	}

	_, err := r.db.AddMember(database.AddMemberParams{
		GameId:    r.id,
		AccountId: join.accountId,
		Team:      string(join.team),
	})
	if err != nil {
		r.log.Println("AddMember:", err)
		join.reply <- ActionFailed(err)
		return
	}

	member := types.Member{
		AccountId: join.accountId,
		Username:  join.username,
		Team:      join.team,
		Online:    r.userMap[join.accountId] != nil,
	}
	r.members = append(r.members, member)

	if len(r.members) == r.gameType.Seats() {
		r.transition(types.RoomStateReady)
	}

	ev := newEvent(r.id, EventMemberJoined)
	ev.MemberJoined = &MemberJoined{Member: member, State: r.state}
	r.broadcast(ev, nil)

	join.reply <- nil
}

func (r *Room) handleAction(act *actionRequest) {
	var err error
	switch act.action {
	case ActionStart:
		err = r.handleStart(act)
	case ActionCard:
		err = r.handleCard(act)
	case ActionSuit:
		err = r.handleSuit(act)
	case ActionReconnect:
		err = r.handleReconnect(act)
	case ActionSave:
		err = r.handleSave(act)
	}

	if err != nil {
		var gerr *GameError
		if !errors.As(err, &gerr) {
			gerr = ActionFailed(err)
		}
		r.log.Printf("action %q on room %d from account %d: %v", act.action, r.id, act.accountId, gerr)
		act.client.queueEvent(newErrorEvent(r.id, gerr), r.id, true)
	}
}

func (r *Room) handleStart(act *actionRequest) error {
	if act.accountId != r.ownerId {
		return ErrNotOwner
	}

	switch r.state {
	case types.RoomStateCreated:
		return ErrNotReady
	case types.RoomStateStarted, types.RoomStateReconnecting, types.RoomStateEnded:
		return ErrAlreadyStarted
	}

	seats := make([]int, len(r.members))
	for i, m := range r.members {
		seats[i] = m.AccountId
	}

	// Persist first: a started game must survive a room reload.
	if err := r.db.UpdateGameState(r.id, string(types.RoomStateStarted)); err != nil {
		return ActionFailed(err)
	}

	hands, err := r.eng.Start(seats)
	if err != nil {
		if dbErr := r.db.UpdateGameState(r.id, string(r.state)); dbErr != nil {
			r.log.Println("UpdateGameState rollback:", dbErr)
		}
		return ActionFailed(err)
	}

	r.state = types.RoomStateStarted
	r.gs.stats.Incr("GamesStarted")

	ev := newEvent(r.id, EventGameStarted)
	ev.GameStarted = &GameStarted{Members: r.membersCopy(), FirstTurn: r.eng.Turn()}
	r.broadcast(ev, nil)

	for accountId, hand := range hands {
		handEv := newEvent(r.id, EventHandDealt)
		handEv.HandDealt = &HandDealt{Cards: hand, TrumpChooser: r.eng.Turn()}
		r.gs.sendToAccount(accountId, r.id, handEv)
	}

	return nil
}

func (r *Room) handleCard(act *actionRequest) error {
	if err := r.requireInProgress(act.accountId); err != nil {
		return err
	}

	var payload cardPayload
	if err := json.Unmarshal(act.payload, &payload); err != nil {
		return &GameError{Code: CodeInvalidAction, Message: "malformed card payload"}
	}

	res, err := r.eng.PlayCard(act.accountId, int(payload.CardId))
	if err != nil {
		return mapEngineErr(err)
	}

	ev := newEvent(r.id, EventCardPlayed)
	ev.CardPlayed = &CardPlayed{
		AccountId:     act.accountId,
		Card:          res.Card,
		TrickComplete: res.TrickComplete,
		TrickWinner:   res.TrickWinner,
		NextTurn:      res.NextTurn,
	}
	r.broadcast(ev, nil)

	if res.GameOver {
		r.transition(types.RoomStateEnded)

		endEv := newEvent(r.id, EventGameEnded)
		endEv.GameEnded = &GameEnded{Tricks: r.eng.State().Tricks}
		r.broadcast(endEv, nil)
	}

	return nil
}

func (r *Room) handleSuit(act *actionRequest) error {
	if err := r.requireInProgress(act.accountId); err != nil {
		return err
	}

	var payload suitPayload
	if err := json.Unmarshal(act.payload, &payload); err != nil {
		return &GameError{Code: CodeInvalidAction, Message: "malformed suit payload"}
	}

	suit := engine.Suit(payload.TrumpSuit)
	if err := r.eng.ChooseTrump(act.accountId, suit); err != nil {
		return mapEngineErr(err)
	}

	ev := newEvent(r.id, EventTrumpChosen)
	ev.TrumpChosen = &TrumpChosen{AccountId: act.accountId, TrumpSuit: suit}
	r.broadcast(ev, nil)

	return nil
}

// handleReconnect re-delivers the current state on the caller's
// private queue. Other members see no event.
func (r *Room) handleReconnect(act *actionRequest) error {
	if r.findMember(act.accountId) == nil {
		return ErrNotAMember
	}

	if r.state == types.RoomStateReconnecting {
		r.state = types.RoomStateStarted
		if err := r.db.UpdateGameState(r.id, string(r.state)); err != nil {
			r.log.Println("UpdateGameState:", err)
		}
	}

	act.client.queueEvent(r.snapshotEvent(act.accountId), r.id, true)
	return nil
}

func (r *Room) handleSave(act *actionRequest) error {
	if act.accountId != r.ownerId {
		return ErrNotOwner
	}
	if r.state != types.RoomStateStarted {
		return ErrNotStarted
	}

	doc := savedState{
		Engine:  r.eng.State(),
		Members: r.membersCopy(),
		SavedAt: Now(),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return ActionFailed(err)
	}

	if err := r.db.CreateSnapshot(database.Snapshot{GameId: r.id, State: raw}); err != nil {
		return ActionFailed(err)
	}

	ev := newEvent(r.id, EventSaved)
	ev.Saved = &Saved{SavedAt: doc.SavedAt}
	act.client.queueEvent(ev, r.id, true)
	return nil
}

func (r *Room) requireInProgress(accountId int) error {
	if r.state != types.RoomStateStarted && r.state != types.RoomStateReconnecting {
		return ErrNotStarted
	}
	if r.findMember(accountId) == nil {
		return ErrNotAMember
	}
	return nil
}

func (r *Room) snapshotEvent(accountId int) *Event {
	ev := newEvent(r.id, EventSnapshot)
	snap := &Snapshot{
		State:   r.state,
		Members: r.membersCopy(),
	}

	if r.state == types.RoomStateStarted || r.state == types.RoomStateReconnecting {
		engState := r.eng.State()
		snap.Hand = r.eng.Hand(accountId)
		snap.TrumpSuit = engState.TrumpSuit
		snap.Turn = engState.Turn
		snap.Trick = engState.Trick
	}

	ev.Snapshot = snap
	return ev
}

func (r *Room) transition(state types.RoomState) {
	r.state = state
	if err := r.db.UpdateGameState(r.id, string(state)); err != nil {
		r.log.Printf("UpdateGameState to %s: %v", state, err)
	}
}

func (r *Room) findMember(accountId int) *types.Member {
	for i := range r.members {
		if r.members[i].AccountId == accountId {
			return &r.members[i]
		}
	}
	return nil
}

func (r *Room) setMemberOnline(accountId int, online bool) bool {
	m := r.findMember(accountId)
	if m == nil {
		return false
	}

	m.Online = online
	return true
}

func (r *Room) teamCount(team types.Team) int {
	var n int
	for _, m := range r.members {
		if m.Team == team {
			n++
		}
	}
	return n
}

func (r *Room) membersCopy() []types.Member {
	members := make([]types.Member, len(r.members))
	copy(members, r.members)
	return members
}

// broadcast fans an event out to every public-topic subscriber of the
// room, preserving publish order per subscriber.
func (r *Room) broadcast(ev *Event, skip *Client) {
	for c := range r.clients {
		if c == skip {
			continue
		}
		c.queueEvent(ev, r.id, false)
	}

	r.gs.stats.Incr("EventsPublished")
}

func mapEngineErr(err error) *GameError {
	switch {
	case errors.Is(err, engine.ErrNotYourTurn):
		return &GameError{Code: CodeNotYourTurn, Message: "not your turn"}
	case errors.Is(err, engine.ErrInvalidAction):
		return &GameError{Code: CodeInvalidAction, Message: err.Error()}
	default:
		return ActionFailed(err)
	}
}
