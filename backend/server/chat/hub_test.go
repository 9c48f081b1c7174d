package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/jghoshh/duet/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type tokens map[string]string

func (t tokens) ParseAuthToken(token string) (string, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid")
}

type partners map[primitive.ObjectID]primitive.ObjectID

func (p partners) PartnerOf(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	partner, ok := p[id]
	if !ok {
		return nil, apperr.ErrPartnerNotConnected
	}
	return &models.Account{ID: partner}, nil
}

type fixture struct {
	server  *httptest.Server
	hub     *Hub
	a, b, c primitive.ObjectID
	wsURL   string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{a: primitive.NewObjectID(), b: primitive.NewObjectID(), c: primitive.NewObjectID()}
	f.hub = NewHub(
		tokens{"ta": f.a.Hex(), "tb": f.b.Hex(), "tc": f.c.Hex()},
		partners{f.a: f.b, f.b: f.a},
		logger.Discard(),
	)
	f.server = httptest.NewServer(f.hub)
	f.wsURL = "ws" + strings.TrimPrefix(f.server.URL, "http")
	t.Cleanup(func() {
		f.hub.Close()
		f.server.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Event{Event: event, Data: raw}))
}

func next(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func TestRejectsMissingAndInvalidTokens(t *testing.T) {
	f := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL+"?token=bogus", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPartnersChatInSharedRoom(t *testing.T) {
	f := setup(t)
	wa, wb := f.dial(t, "ta"), f.dial(t, "tb")
	room := RoomID(f.a.Hex(), f.b.Hex())

	send(t, wa, EventJoinRoom, JoinRoom{UserID: f.a.Hex(), PartnerID: f.b.Hex()})
	ev := next(t, wa)
	require.Equal(t, EventRoomJoined, ev.Event)
	var joined RoomJoined
	require.NoError(t, json.Unmarshal(ev.Data, &joined))
	assert.Equal(t, room, joined.RoomID)

	send(t, wb, EventJoinRoom, JoinRoom{UserID: f.b.Hex(), PartnerID: f.a.Hex()})
	require.Equal(t, EventRoomJoined, next(t, wb).Event)

	send(t, wa, EventNewMessage, Message{RoomID: room, Message: "hi"})
	for _, ws := range []*websocket.Conn{wa, wb} {
		ev := next(t, ws)
		require.Equal(t, EventMessageReceived, ev.Event)
		var msg Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, Message{RoomID: room, Message: "hi", SenderID: f.a.Hex()}, msg)
	}
}

func TestJoinAndSendAreChecked(t *testing.T) {
	f := setup(t)
	wc := f.dial(t, "tc")
	room := RoomID(f.a.Hex(), f.b.Hex())

	send(t, wc, EventJoinRoom, JoinRoom{UserID: f.a.Hex(), PartnerID: f.b.Hex()})
	assert.Equal(t, EventError, next(t, wc).Event)

	send(t, wc, EventJoinRoom, JoinRoom{UserID: f.c.Hex(), PartnerID: f.a.Hex()})
	ev := next(t, wc)
	require.Equal(t, EventError, ev.Event)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal(ev.Data, &e))
	assert.Equal(t, apperr.ErrPartnerNotConnected.Error(), e.Message)

	send(t, wc, EventNewMessage, Message{RoomID: room, Message: "sneaky"})
	assert.Equal(t, EventError, next(t, wc).Event)

	send(t, wc, "dance", struct{}{})
	assert.Equal(t, EventError, next(t, wc).Event)
}
