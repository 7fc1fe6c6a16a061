package game

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/maraffa-online/maraffa-server/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection speaking STOMP on behalf of an
// authenticated account.
type Client struct {
	conn *websocket.Conn
	gs   *GameServer
	log  *log.Logger
	user types.User

	send chan *frame.Frame
	stop chan struct{}

	subsLock   sync.RWMutex
	connected  bool
	privateSub string           // subscription id for /user/queue/game
	topicSubs  map[int64]string // game id -> subscription id
}

func NewClient(user types.User, conn *websocket.Conn, gs *GameServer, l *log.Logger) *Client {
	return &Client{
		conn:      conn,
		gs:        gs,
		log:       l,
		user:      user,
		send:      make(chan *frame.Frame, 256),
		stop:      make(chan struct{}),
		topicSubs: make(map[int64]string),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := marshalFrame(f)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		f, err := readFrame(raw)
		if err != nil {
			c.log.Println("error parsing frame:", err)
			c.queueFrame(errorFrame("malformed frame"))
			continue
		}
		if f == nil {
			// heartbeat
			continue
		}

		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f *frame.Frame) {
	if f.Command == frame.CONNECT || f.Command == frame.STOMP {
		c.subsLock.Lock()
		c.connected = true
		c.subsLock.Unlock()
		c.queueFrame(connectedFrame())
		return
	}

	c.subsLock.RLock()
	connected := c.connected
	c.subsLock.RUnlock()
	if !connected {
		c.queueFrame(errorFrame("expected CONNECT frame"))
		return
	}

	switch f.Command {
	case frame.SUBSCRIBE:
		c.handleSubscribe(f)
	case frame.UNSUBSCRIBE:
		c.handleUnsubscribe(f)
	case frame.SEND:
		c.handleSend(f)
	case frame.DISCONNECT:
		// Acknowledge; the peer closes the socket, which tears the
		// client down through the read loop.
		c.sendReceipt(f)
	default:
		c.queueFrame(errorFrame("unsupported frame " + f.Command))
	}
}

func (c *Client) handleSubscribe(f *frame.Frame) {
	subId := f.Header.Get(frame.Id)
	dest := f.Header.Get(frame.Destination)
	if subId == "" || dest == "" {
		c.queueFrame(errorFrame("subscribe requires id and destination"))
		return
	}

	if dest == userQueueDest {
		c.subsLock.Lock()
		c.privateSub = subId
		c.subsLock.Unlock()
		c.sendReceipt(f)
		return
	}

	gameId, ok := parseTopicDestination(dest)
	if !ok {
		c.queueFrame(errorFrame("unknown destination " + dest))
		return
	}

	if err := c.gs.subscribe(gameId, c); err != nil {
		c.log.Printf("subscribe to game %d: %v", gameId, err)
		c.queueFrame(errorFrame(err.Error()))
		return
	}

	// Re-subscribing the same destination replaces the prior handle.
	c.subsLock.Lock()
	c.topicSubs[gameId] = subId
	c.subsLock.Unlock()
	c.sendReceipt(f)
}

func (c *Client) handleUnsubscribe(f *frame.Frame) {
	subId := f.Header.Get(frame.Id)
	if subId == "" {
		c.queueFrame(errorFrame("unsubscribe requires id"))
		return
	}

	c.subsLock.Lock()
	if c.privateSub == subId {
		c.privateSub = ""
		c.subsLock.Unlock()
		c.sendReceipt(f)
		return
	}

	var gameId int64
	for id, sub := range c.topicSubs {
		if sub == subId {
			gameId = id
			delete(c.topicSubs, id)
			break
		}
	}
	c.subsLock.Unlock()

	if gameId != 0 {
		c.gs.unsubscribe(gameId, c)
	}
	c.sendReceipt(f)
}

func (c *Client) handleSend(f *frame.Frame) {
	dest := f.Header.Get(frame.Destination)
	gameId, action, ok := parseAppDestination(dest)
	if !ok {
		c.queueFrame(errorFrame("unknown destination " + dest))
		return
	}

	req := &actionRequest{
		action:    action,
		accountId: c.user.Id,
		client:    c,
		payload:   json.RawMessage(f.Body),
	}

	if err := c.gs.dispatch(gameId, req); err != nil {
		var gerr *GameError
		if !errors.As(err, &gerr) {
			gerr = ActionFailed(err)
		}
		c.queueEvent(newErrorEvent(gameId, gerr), gameId, true)
		return
	}
	c.sendReceipt(f)
}

func (c *Client) sendReceipt(f *frame.Frame) {
	if receipt := f.Header.Get(frame.Receipt); receipt != "" {
		c.queueFrame(receiptFrame(receipt))
	}
}

// queueEvent resolves the event's subscription and queues a MESSAGE
// frame. Events for destinations the client never subscribed to are
// dropped, which is what at-most-once private delivery requires.
func (c *Client) queueEvent(ev *Event, gameId int64, private bool) bool {
	c.subsLock.RLock()
	var subId, dest string
	if private {
		subId = c.privateSub
		dest = userQueueDest
	} else {
		subId = c.topicSubs[gameId]
		dest = topicPrefix + strconv.FormatInt(gameId, 10)
	}
	c.subsLock.RUnlock()

	if subId == "" {
		return false
	}

	f, err := messageFrame(subId, dest, ev)
	if err != nil {
		c.log.Println("failed to build message frame:", err)
		return false
	}

	return c.queueFrame(f)
}

func (c *Client) queueFrame(f *frame.Frame) bool {
	select {
	case c.send <- f:
	default:
		c.log.Println("failed to queue frame, channel is full")
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	close(c.stop)
}

func (c *Client) cleanup() {
	c.gs.DeregisterClient(c)
	c.detachAll()
	c.stopClient()
}

// detachAll informs every subscribed room that this connection is gone.
func (c *Client) detachAll() {
	c.subsLock.Lock()
	gameIds := make([]int64, 0, len(c.topicSubs))
	for id := range c.topicSubs {
		gameIds = append(gameIds, id)
	}
	c.topicSubs = make(map[int64]string)
	c.privateSub = ""
	c.subsLock.Unlock()

	for _, id := range gameIds {
		c.gs.unsubscribe(id, c)
	}
}
