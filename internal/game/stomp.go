package game

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

// Destination layout, matching the broker surface the clients expect:
//
//	/topic/game/{id}    public events for one game
//	/user/queue/game    the connection's private events
//	/app/game/{id}/{action}  client actions (start, card, suit, reconnect, save)
const (
	topicPrefix     = "/topic/game/"
	appPrefix       = "/app/game/"
	userQueueDest   = "/user/queue/game"
	stompVersion    = "1.2"
	jsonContentType = "application/json"
)

const (
	ActionStart     = "start"
	ActionCard      = "card"
	ActionSuit      = "suit"
	ActionReconnect = "reconnect"
	ActionSave      = "save"
)

func parseTopicDestination(dest string) (int64, bool) {
	if !strings.HasPrefix(dest, topicPrefix) {
		return 0, false
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(dest, topicPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseAppDestination(dest string) (int64, string, bool) {
	if !strings.HasPrefix(dest, appPrefix) {
		return 0, "", false
	}

	rest := strings.SplitN(strings.TrimPrefix(dest, appPrefix), "/", 2)
	if len(rest) != 2 {
		return 0, "", false
	}

	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}

	switch rest[1] {
	case ActionStart, ActionCard, ActionSuit, ActionReconnect, ActionSave:
		return id, rest[1], true
	}
	return 0, "", false
}

func readFrame(raw []byte) (*frame.Frame, error) {
	return frame.NewReader(bytes.NewReader(raw)).Read()
}

func marshalFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func connectedFrame() *frame.Frame {
	return frame.New(frame.CONNECTED, frame.Version, stompVersion)
}

func receiptFrame(receiptId string) *frame.Frame {
	return frame.New(frame.RECEIPT, frame.ReceiptId, receiptId)
}

func errorFrame(message string) *frame.Frame {
	return frame.New(frame.ERROR, frame.Message, message)
}

// messageFrame wraps an event for delivery on one subscription. The
// destination echoes the subscription's original destination.
func messageFrame(subId, dest string, ev *Event) (*frame.Frame, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	f := frame.New(frame.MESSAGE,
		frame.Subscription, subId,
		frame.MessageId, ev.Id,
		frame.Destination, dest,
		frame.ContentType, jsonContentType,
	)
	f.Body = body
	return f, nil
}
