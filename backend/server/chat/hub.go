package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/server/metrics"
	"github.com/jghoshh/duet/backend/server/respond"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event names exchanged over the socket.
const (
	EventJoinRoom        = "joinRoom"
	EventRoomJoined      = "roomJoined"
	EventNewMessage      = "newMessage"
	EventMessageReceived = "messageReceived"
	EventError           = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Event is the envelope of every frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoom asks to join the room shared with partnerId.
type JoinRoom struct {
	UserID    string `json:"userId"`
	PartnerID string `json:"partnerId"`
}

// RoomJoined confirms a join.
type RoomJoined struct {
	RoomID string `json:"roomId"`
}

// Message is the payload of newMessage and messageReceived.
type Message struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	SenderID string `json:"senderId,omitempty"`
}

// ErrorEvent reports a rejected frame. The connection stays open.
type ErrorEvent struct {
	Message string `json:"message"`
}

// TokenParser verifies a bearer token and returns the account id it was issued for.
type TokenParser interface {
	ParseAuthToken(token string) (string, error)
}

// PartnerLookup returns the current partner of an account.
type PartnerLookup interface {
	PartnerOf(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
}

// Hub relays chat messages between the connections joined to a room.
// Messages are not stored.
type Hub struct {
	upgrader websocket.Upgrader
	tokens   TokenParser
	partners PartnerLookup
	log      logrus.FieldLogger

	mu     sync.Mutex
	rooms  map[string]map[*conn]struct{}
	conns  map[*conn]struct{}
	closed bool
}

type conn struct {
	ws     *websocket.Conn
	userID string
	send   chan []byte
	once   sync.Once

	// rooms is only touched by the read loop.
	rooms map[string]bool
}

func (c *conn) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub returns a hub authenticating with tokens and checking pairings with partners.
func NewHub(tokens TokenParser, partners PartnerLookup, log logrus.FieldLogger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tokens:   tokens,
		partners: partners,
		log:      log,
		rooms:    make(map[string]map[*conn]struct{}),
		conns:    make(map[*conn]struct{}),
	}
}

func tokenOf(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// ServeHTTP authenticates the request and upgrades it to a chat connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenOf(r)
	if token == "" {
		respond.Error(w, apperr.ErrMissingToken)
		return
	}
	userID, err := h.tokens.ParseAuthToken(token)
	if err != nil {
		respond.Error(w, apperr.ErrInvalidToken)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &conn{ws: ws, userID: userID, send: make(chan []byte, sendBuffer), rooms: make(map[string]bool)}
	if !h.register(c) {
		_ = ws.Close()
		return
	}
	metrics.ChatConnected(1)
	h.log.WithField("user_id", userID).Debug("chat connection opened")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	for roomID := range c.rooms {
		if members := h.rooms[roomID]; members != nil {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	c.close()
	metrics.ChatConnected(-1)
}

func (h *Hub) join(c *conn, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*conn]struct{})
		h.rooms[roomID] = members
	}
	members[c] = struct{}{}
	c.rooms[roomID] = true
}

// Broadcast sends a messageReceived event to every connection joined to roomID.
func (h *Hub) Broadcast(msg Message) {
	frame, err := encode(EventMessageReceived, msg)
	if err != nil {
		h.log.WithError(err).Error("encoding chat message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[msg.RoomID] {
		select {
		case c.send <- frame:
		default:
			h.log.WithField("user_id", c.userID).Warn("chat connection too slow, dropping message")
		}
	}
	metrics.ChatMessage()
}

func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.unregister(c)
		h.log.WithField("user_id", c.userID).Debug("chat connection closed")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("user_id", c.userID).Warn("chat read failed")
			}
			return
		}
		if err := h.handle(c, ev); err != nil {
			h.reply(c, EventError, ErrorEvent{Message: apperr.Message(err)})
		}
	}
}

func (h *Hub) handle(c *conn, ev Event) error {
	switch ev.Event {
	case EventJoinRoom:
		var req JoinRoom
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			return apperr.ErrValidation
		}
		roomID, err := h.authorizeJoin(c.userID, req)
		if err != nil {
			return err
		}
		h.join(c, roomID)
		h.reply(c, EventRoomJoined, RoomJoined{RoomID: roomID})
		return nil

	case EventNewMessage:
		var msg Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return apperr.ErrValidation
		}
		if !c.rooms[msg.RoomID] {
			return apperr.ErrForbidden
		}
		if strings.TrimSpace(msg.Message) == "" {
			return apperr.ErrMissingField
		}
		msg.SenderID = c.userID
		h.Broadcast(msg)
		return nil
	}
	return apperr.New(apperr.KindValidation, "unknown event "+ev.Event)
}

func (h *Hub) authorizeJoin(userID string, req JoinRoom) (string, error) {
	if req.UserID != userID {
		return "", apperr.ErrForbidden
	}
	id, err := models.ParseID(userID)
	if err != nil {
		return "", err
	}
	partner, err := h.partners.PartnerOf(context.Background(), id)
	if err != nil {
		return "", err
	}
	if partner.ID.Hex() != req.PartnerID {
		return "", apperr.ErrForbidden
	}
	return RoomID(userID, req.PartnerID), nil
}

func (h *Hub) reply(c *conn, event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.WithError(err).Error("encoding chat reply")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		c.close()
		metrics.ChatConnected(-1)
	}
	h.conns = make(map[*conn]struct{})
	h.rooms = make(map[string]map[*conn]struct{})
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: event, Data: raw})
}
