package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jghoshh/duet/backend/server/chat"
)

// maxCachedMessages bounds the history kept per room.
const maxCachedMessages = 200

// ChatMessage is a message seen in a room.
type ChatMessage struct {
	RoomID   string
	SenderID string
	Text     string
	At       time.Time
}

// ChatCache keeps the messages received in each room for the lifetime of the
// CLI session. Nothing is persisted, by the client or the server.
type ChatCache struct {
	mu    sync.Mutex
	rooms map[string][]ChatMessage
}

// NewChatCache returns an empty cache.
func NewChatCache() *ChatCache {
	return &ChatCache{rooms: make(map[string][]ChatMessage)}
}

// Append records msg, dropping the oldest message of the room when it is full.
func (c *ChatCache) Append(msg ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := append(c.rooms[msg.RoomID], msg)
	if len(history) > maxCachedMessages {
		history = history[len(history)-maxCachedMessages:]
	}
	c.rooms[msg.RoomID] = history
}

// History returns a copy of the messages cached for roomID, oldest first.
func (c *ChatCache) History(roomID string) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.rooms[roomID]))
	copy(out, c.rooms[roomID])
	return out
}

// Clear forgets every cached message.
func (c *ChatCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string][]ChatMessage)
}

// ChatClient is a websocket connection to the backend chat hub.
type ChatClient struct {
	conn     *websocket.Conn
	cache    *ChatCache
	writeMu  sync.Mutex
	incoming chan ChatMessage
	replies  chan chatReply
	done     chan struct{}
	once     sync.Once
}

type chatReply struct {
	roomID string
	err    error
}

// ErrChatClosed is returned once the connection has gone away.
var ErrChatClosed = errors.New("chat connection closed")

// chatURL turns the backend base URL into the websocket endpoint.
func chatURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// OpenChat connects the signed in user to the chat hub. Received messages are
// recorded in cache and delivered on Messages.
func (c *Client) OpenChat(ctx context.Context, cache *ChatCache) (*ChatClient, error) {
	token, _, err := c.session.Current()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotSignedIn
	}

	wsURL, err := chatURL(c.serverURL, token)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s", resp.Status)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	cc := &ChatClient{
		conn:     conn,
		cache:    cache,
		incoming: make(chan ChatMessage, 64),
		replies:  make(chan chatReply, 4),
		done:     make(chan struct{}),
	}
	go cc.readLoop()
	return cc, nil
}

// Messages delivers every message received in a joined room. It is closed with the connection.
func (cc *ChatClient) Messages() <-chan ChatMessage {
	return cc.incoming
}

// Done is closed when the connection is gone.
func (cc *ChatClient) Done() <-chan struct{} {
	return cc.done
}

func (cc *ChatClient) readLoop() {
	defer func() {
		close(cc.incoming)
		cc.shutdown()
	}()

	for {
		var ev chat.Event
		if err := cc.conn.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Event {
		case chat.EventRoomJoined:
			var joined chat.RoomJoined
			if err := json.Unmarshal(ev.Data, &joined); err == nil {
				cc.reply(chatReply{roomID: joined.RoomID})
			}
		case chat.EventMessageReceived:
			var msg chat.Message
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				continue
			}
			received := ChatMessage{RoomID: msg.RoomID, SenderID: msg.SenderID, Text: msg.Message, At: time.Now()}
			if cc.cache != nil {
				cc.cache.Append(received)
			}
			select {
			case cc.incoming <- received:
			default:
			}
		case chat.EventError:
			var e chat.ErrorEvent
			if err := json.Unmarshal(ev.Data, &e); err == nil {
				cc.reply(chatReply{err: errors.New(e.Message)})
			}
		}
	}
}

func (cc *ChatClient) reply(r chatReply) {
	select {
	case cc.replies <- r:
	default:
	}
}

func (cc *ChatClient) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := cc.conn.WriteJSON(chat.Event{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Join enters the room shared by userID and partnerID and returns its id.
func (cc *ChatClient) Join(ctx context.Context, userID, partnerID string) (string, error) {
	// Errors from earlier sends are not an answer to this join.
drain:
	for {
		select {
		case <-cc.replies:
		default:
			break drain
		}
	}

	if err := cc.send(chat.EventJoinRoom, chat.JoinRoom{UserID: userID, PartnerID: partnerID}); err != nil {
		return "", err
	}

	select {
	case r := <-cc.replies:
		return r.roomID, r.err
	case <-cc.done:
		return "", ErrChatClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send posts text to roomID. The message comes back on Messages once the hub relays it.
func (cc *ChatClient) Send(roomID, text string) error {
	select {
	case <-cc.done:
		return ErrChatClosed
	default:
	}
	return cc.send(chat.EventNewMessage, chat.Message{RoomID: roomID, Message: text})
}

func (cc *ChatClient) shutdown() {
	cc.once.Do(func() {
		close(cc.done)
	})
}

// Close says goodbye to the hub and closes the connection.
func (cc *ChatClient) Close() error {
	cc.writeMu.Lock()
	err := cc.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	cc.writeMu.Unlock()

	cc.shutdown()
	if closeErr := cc.conn.Close(); err == nil {
		err = closeErr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
