package game

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/engine"
	"github.com/maraffa-online/maraffa-server/internal/stats"
	"github.com/maraffa-online/maraffa-server/internal/types"
)

const roomChanBuffer = 256

type joinDispatch struct {
	gameId int64
	req    *joinRequest
}

type subDispatch struct {
	gameId int64
	client *Client
	reply  chan error
	ack    chan error
}

type actionDispatch struct {
	gameId int64
	req    *actionRequest
	reply  chan error
}

type stopRequest struct {
	done chan struct{}
}

// GameServer routes connections and requests to rooms. Rooms are
// loaded from the database on first use and unloaded when idle, so
// the run loop is the only goroutine that touches the rooms map.
type GameServer struct {
	log       *log.Logger
	db        database.Repository
	stats     stats.StatsProvider
	newEngine func() engine.Engine

	rooms map[int64]*Room

	clientsLock      sync.Mutex
	clients          map[*Client]struct{}
	clientsByAccount map[int]map[*Client]struct{}

	joinChan        chan *joinDispatch
	subscribeChan   chan *subDispatch
	unsubscribeChan chan *subDispatch
	actionChan      chan *actionDispatch
	unloadRoomChan  chan unloadRequest
	stop            chan stopRequest
}

func NewGameServer(l *log.Logger, db database.Repository, st stats.StatsProvider, newEngine func() engine.Engine) *GameServer {
	gs := &GameServer{
		log:              l,
		db:               db,
		stats:            st,
		newEngine:        newEngine,
		rooms:            make(map[int64]*Room),
		clients:          make(map[*Client]struct{}),
		clientsByAccount: make(map[int]map[*Client]struct{}),
		joinChan:         make(chan *joinDispatch),
		subscribeChan:    make(chan *subDispatch),
		unsubscribeChan:  make(chan *subDispatch),
		actionChan:       make(chan *actionDispatch),
		unloadRoomChan:   make(chan unloadRequest, roomChanBuffer),
		stop:             make(chan stopRequest),
	}

	st.RegisterMetric("ConnectedClients")
	st.RegisterMetric("ActiveRooms")
	st.RegisterMetric("EventsPublished")
	st.RegisterMetric("GamesStarted")

	return gs
}

func (gs *GameServer) Run() {
	for {
		select {
		case d := <-gs.subscribeChan:
			r, err := gs.loadRoom(d.gameId)
			if err != nil {
				d.reply <- err
				continue
			}
			d.reply <- forward(r.subscribeChan, &subscribeReq{client: d.client, done: d.ack})
		case d := <-gs.unsubscribeChan:
			if r, ok := gs.rooms[d.gameId]; ok {
				if err := forward(r.unsubscribeChan, d.client); err != nil {
					gs.log.Printf("unsubscribe from room %d: %v", d.gameId, err)
				}
			}
			d.reply <- nil
		case d := <-gs.joinChan:
			r, err := gs.loadRoom(d.gameId)
			if err != nil {
				d.req.reply <- err
				continue
			}
			if err := forward(r.joinChan, d.req); err != nil {
				d.req.reply <- err
			}
		case d := <-gs.actionChan:
			r, err := gs.loadRoom(d.gameId)
			if err != nil {
				d.reply <- err
				continue
			}
			d.reply <- forward(r.actionChan, d.req)
		case req := <-gs.unloadRoomChan:
			gs.unloadRoom(req)
		case req := <-gs.stop:
			gs.log.Println("game server stopping")
			for id, r := range gs.rooms {
				delete(gs.rooms, id)
				r.exit <- exitReq{}
				<-r.done
			}
			close(req.done)
			return
		}
	}
}

// forward hands a request to a room without blocking the run loop on
// a room stuck in a slow database call.
func forward[T any](ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	default:
		return ErrUnavailable
	}
}

// loadRoom returns the live room for a game, reading it from the
// database if it is not resident.
func (gs *GameServer) loadRoom(gameId int64) (*Room, error) {
	if r, ok := gs.rooms[gameId]; ok {
		return r, nil
	}

	dbGame, err := gs.db.GetGameWithMembers(gameId)
	if err != nil {
		gs.log.Printf("load game %d: %v", gameId, err)
		return nil, ErrRoomNotFound
	}

	r := &Room{
		id:              dbGame.Id,
		gameType:        types.GameType(dbGame.GameType),
		joinCode:        dbGame.JoinCode,
		ownerId:         dbGame.OwnerId,
		state:           types.RoomState(dbGame.State),
		eng:             gs.newEngine(),
		gs:              gs,
		db:              gs.db,
		log:             gs.log,
		clients:         make(map[*Client]struct{}),
		userMap:         make(map[int]map[*Client]struct{}),
		subscribeChan:   make(chan *subscribeReq, roomChanBuffer),
		unsubscribeChan: make(chan *Client, roomChanBuffer),
		joinChan:        make(chan *joinRequest, roomChanBuffer),
		actionChan:      make(chan *actionRequest, roomChanBuffer),
		exit:            make(chan exitReq, 1),
		done:            make(chan struct{}),
	}

	for _, m := range dbGame.Members {
		r.members = append(r.members, types.Member{
			AccountId: m.AccountId,
			Username:  m.Username,
			Team:      types.Team(m.Team),
		})
	}

	if r.state == types.RoomStateStarted || r.state == types.RoomStateReconnecting {
		gs.restoreEngine(r)
	}

	gs.rooms[gameId] = r
	gs.stats.Incr("ActiveRooms")
	go r.run()

	return r, nil
}

// restoreEngine replays the latest snapshot into a freshly loaded
// room so a running game survives an unload or a server restart.
func (gs *GameServer) restoreEngine(r *Room) {
	snap, err := gs.db.LatestSnapshot(r.id)
	if err != nil {
		gs.log.Printf("no snapshot for game %d: %v", r.id, err)
		return
	}

	var saved savedState
	if err := json.Unmarshal(snap.State, &saved); err != nil {
		gs.log.Printf("corrupt snapshot for game %d: %v", r.id, err)
		return
	}

	if err := r.eng.LoadState(saved.Engine); err != nil {
		gs.log.Printf("restore game %d: %v", r.id, err)
	}
}

func (gs *GameServer) unloadRoom(req unloadRequest) {
	r, ok := gs.rooms[req.roomId]
	if !ok {
		return
	}

	delete(gs.rooms, req.roomId)
	r.exit <- exitReq{deleted: req.deleted}
	<-r.done
	gs.stats.Decr("ActiveRooms")
}

// JoinGame adds an account to a game's membership, enforcing join
// code, capacity and lifecycle rules inside the room.
func (gs *GameServer) JoinGame(ctx context.Context, gameId int64, accountId int, username string, team types.Team, joinCode string) error {
	req := &joinRequest{
		accountId: accountId,
		username:  username,
		team:      team,
		joinCode:  joinCode,
		reply:     make(chan error, 1),
	}

	select {
	case gs.joinChan <- &joinDispatch{gameId: gameId, req: req}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnloadRoom evicts a room from memory. With deleted set, subscribers
// are told the game is gone before the room exits.
func (gs *GameServer) UnloadRoom(ctx context.Context, gameId int64, deleted bool) error {
	select {
	case gs.unloadRoomChan <- unloadRequest{roomId: gameId, deleted: deleted}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (gs *GameServer) RegisterClient(c *Client) {
	gs.clientsLock.Lock()
	defer gs.clientsLock.Unlock()

	gs.clients[c] = struct{}{}
	if gs.clientsByAccount[c.user.Id] == nil {
		gs.clientsByAccount[c.user.Id] = make(map[*Client]struct{})
	}
	gs.clientsByAccount[c.user.Id][c] = struct{}{}
	gs.stats.Incr("ConnectedClients")
}

func (gs *GameServer) DeregisterClient(c *Client) {
	gs.clientsLock.Lock()
	defer gs.clientsLock.Unlock()

	if _, ok := gs.clients[c]; !ok {
		return
	}

	delete(gs.clients, c)
	if accountClients, ok := gs.clientsByAccount[c.user.Id]; ok {
		delete(accountClients, c)
		if len(accountClients) == 0 {
			delete(gs.clientsByAccount, c.user.Id)
		}
	}
	gs.stats.Decr("ConnectedClients")
}

// sendToAccount delivers a private event to every connection the
// account currently holds. Connections without a private queue
// subscription drop it.
func (gs *GameServer) sendToAccount(accountId int, gameId int64, ev *Event) {
	gs.clientsLock.Lock()
	defer gs.clientsLock.Unlock()

	for c := range gs.clientsByAccount[accountId] {
		c.queueEvent(ev, gameId, true)
	}
}

// subscribe blocks until the room has attached the client, so events
// published afterwards are guaranteed to reach it.
func (gs *GameServer) subscribe(gameId int64, c *Client) error {
	d := &subDispatch{gameId: gameId, client: c, reply: make(chan error, 1), ack: make(chan error, 1)}
	gs.subscribeChan <- d
	if err := <-d.reply; err != nil {
		return err
	}
	return <-d.ack
}

func (gs *GameServer) unsubscribe(gameId int64, c *Client) {
	d := &subDispatch{gameId: gameId, client: c, reply: make(chan error, 1)}
	gs.unsubscribeChan <- d
	<-d.reply
}

func (gs *GameServer) dispatch(gameId int64, req *actionRequest) error {
	d := &actionDispatch{gameId: gameId, req: req, reply: make(chan error, 1)}
	gs.actionChan <- d
	return <-d.reply
}

// Shutdown closes every connection and stops all rooms and the run
// loop. The caller's context bounds the wait.
func (gs *GameServer) Shutdown(ctx context.Context) error {
	gs.clientsLock.Lock()
	for c := range gs.clients {
		c.conn.Close()
	}
	gs.clientsLock.Unlock()

	req := stopRequest{done: make(chan struct{})}
	select {
	case gs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
