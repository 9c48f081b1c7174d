package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jghoshh/duet/backend/queue"
	"github.com/jghoshh/duet/backend/server/accounts"
	"github.com/jghoshh/duet/backend/server/auth"
	"github.com/jghoshh/duet/backend/server/challenges"
	"github.com/jghoshh/duet/backend/server/chat"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	"github.com/jghoshh/duet/backend/server/pairing"
	"github.com/jghoshh/duet/backend/server/rewards"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu       sync.Mutex
	messages []*queue.EmailMessage
}

func (o *outbox) PublishEmail(msg *queue.EmailMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

type testEnv struct {
	server *httptest.Server
	store  *storage.MemoryStorage
	emails *outbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()
	store := storage.NewMemoryStorage()
	emails := &outbox{}

	notes := inbox.NewService(store, log)
	authSvc := auth.NewService(store, emails, "test-key", time.Hour, log)
	accountSvc := accounts.NewService(store, log)
	svc := Services{
		Auth:       authSvc,
		Accounts:   accountSvc,
		Pairing:    pairing.NewService(store, notes, log),
		Challenges: challenges.NewService(store, notes, log),
		Rewards:    rewards.NewService(store, notes, log),
		Inbox:      notes,
		Emails:     emails,
		Hub:        chat.NewHub(authSvc, accountSvc, log),
	}
	srv := New(svc, Options{ContactReceiver: "team@example.com", RateLimitRPS: 100, RateLimitBurst: 100}, log)

	env := &testEnv{server: httptest.NewServer(srv.Handler()), store: store, emails: emails}
	t.Cleanup(func() {
		svc.Hub.Close()
		env.server.Close()
	})
	return env
}

func (e *testEnv) call(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Coins int64  `json:"coins"`
	} `json:"user"`
}

func (e *testEnv) register(t *testing.T, username string) session {
	t.Helper()
	var s session
	code := e.call(t, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password1",
	}, &s)
	require.Equal(t, http.StatusCreated, code)
	return s
}

func (e *testEnv) pair(t *testing.T, a, b session, bUsername string) {
	t.Helper()
	code := e.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/partner/request", a.Token,
		map[string]string{"partnersUsername": bUsername}, nil)
	require.Equal(t, http.StatusCreated, code)

	var inboxB []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	require.Equal(t, http.StatusOK, e.call(t, http.MethodGet, "/dashboard/"+b.User.ID+"/notifications", b.Token, nil, &inboxB))
	require.Len(t, inboxB, 1)
	require.Equal(t, "partner_request", inboxB[0].Type)

	code = e.call(t, http.MethodPost, "/dashboard/"+b.User.ID+"/partner/accept", b.Token,
		map[string]string{"notificationId": inboxB[0].ID}, nil)
	require.Equal(t, http.StatusOK, code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	var msg map[string]string
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/test", "", nil, &msg))
	assert.Equal(t, "server is running", msg["message"])

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
}

func TestChallengeAndRewardFlow(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")
	env.pair(t, a, b, "bob")

	var partner accounts.PartnerView
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+b.User.ID+"/partner", b.Token, nil, &partner))
	assert.True(t, partner.IsConnected)
	assert.Equal(t, a.User.ID, partner.PartnerUserID)
	assert.Equal(t, chat.RoomID(a.User.ID, b.User.ID), partner.RoomID)

	var challenge struct {
		ID      string `json:"id"`
		OwnerID string `json:"ownerId"`
	}
	code := env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/challenges/create", a.Token, map[string]interface{}{
		"description": "run 5k",
		"deadline":    time.Now().Add(24 * time.Hour),
		"difficulty":  "medium",
		"coins":       50,
	}, &challenge)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, b.User.ID, challenge.OwnerID)

	code = env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/challenges/completed", a.Token,
		map[string]string{"challengeId": challenge.ID}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var completed struct {
		Coins int64 `json:"coins"`
	}
	code = env.call(t, http.MethodPost, "/dashboard/"+b.User.ID+"/challenges/completed", b.Token,
		map[string]string{"challengeId": challenge.ID}, &completed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(50), completed.Coins)

	code = env.call(t, http.MethodPost, "/dashboard/"+b.User.ID+"/challenges/completed", b.Token,
		map[string]string{"challengeId": challenge.ID}, nil)
	assert.Equal(t, http.StatusConflict, code)

	var board challenges.Board
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+b.User.ID, b.Token, nil, &board))
	assert.Equal(t, int64(50), board.Coins)
	assert.Len(t, board.CompletedChallenges, 1)

	var reward struct {
		ID string `json:"id"`
	}
	code = env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/rewards/create", a.Token, map[string]interface{}{
		"rewardType":    "gold",
		"description":   "dinner",
		"coinsRequired": 30,
		"deadline":      time.Now().Add(24 * time.Hour),
	}, &reward)
	require.Equal(t, http.StatusCreated, code)

	var owned []struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+b.User.ID+"/rewards/get-my-rewards", b.Token, nil, &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, reward.ID, owned[0].ID)

	var redemption rewards.Redemption
	code = env.call(t, http.MethodPut, "/dashboard/"+b.User.ID+"/rewards/"+reward.ID+"/redeem", b.Token, nil, &redemption)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(20), redemption.Balance)
	assert.True(t, redemption.Reward.Redeemed)

	code = env.call(t, http.MethodPut, "/dashboard/"+b.User.ID+"/rewards/"+reward.ID+"/redeem", b.Token, nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	carol := env.register(t, "carol")
	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodDelete, "/rewards/"+reward.ID, carol.Token, nil, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodDelete, "/rewards/"+reward.ID, a.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodDelete, "/rewards/"+reward.ID, a.Token, nil, nil))

	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodDelete, "/challenges/"+challenge.ID, carol.Token, nil, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodDelete, "/challenges/"+challenge.ID, b.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodDelete, "/challenges/"+challenge.ID, b.Token, nil, nil))
}

func TestInsufficientCoins(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")
	env.pair(t, a, b, "bob")

	var reward struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/rewards/create", a.Token, map[string]interface{}{
		"rewardType":    "diamond",
		"description":   "trip",
		"coinsRequired": 500,
		"deadline":      time.Now().Add(time.Hour),
	}, &reward))

	var body struct {
		Kind string `json:"kind"`
	}
	code := env.call(t, http.MethodPut, "/dashboard/"+b.User.ID+"/rewards/"+reward.ID+"/redeem", b.Token, nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "insufficient_resource", body.Kind)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")

	assert.Equal(t, http.StatusUnauthorized, env.call(t, http.MethodGet, "/dashboard/"+a.User.ID, "", nil, nil))
	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodGet, "/dashboard/"+a.User.ID, "garbage", nil, nil))
	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodGet, "/dashboard/"+a.User.ID, b.Token, nil, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+a.User.ID, a.Token, nil, nil))

	var login session
	code := env.call(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "password1"}, &login)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, a.User.ID, login.User.ID)

	assert.Equal(t, http.StatusUnauthorized, env.call(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "wrong0000"}, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodPost, "/login", "", map[string]string{"email": "zed@example.com", "password": "password1"}, nil))
	assert.Equal(t, http.StatusConflict, env.call(t, http.MethodPost, "/register", "", map[string]string{"username": "alice", "email": "x@example.com", "password": "password1"}, nil))
}

func TestConfirmEmail(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")

	require.Len(t, env.emails.messages, 1)
	token := env.emails.messages[0].Token

	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodPost, "/confirm", a.Token, map[string]string{"token": "WRONG1"}, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodPost, "/confirm", a.Token, map[string]string{"token": token}, nil))

	var profile struct {
		IsVerified bool `json:"isVerified"`
	}
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+a.User.ID+"/profile", a.Token, nil, &profile))
	assert.True(t, profile.IsVerified)
}

func TestProfileUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")

	var account struct {
		Coins   int64 `json:"coins"`
		Profile struct {
			Bio    string `json:"bio"`
			Gender string `json:"gender"`
		} `json:"profile"`
	}
	code := env.call(t, http.MethodPut, "/dashboard/"+a.User.ID+"/profile", a.Token,
		map[string]interface{}{"bio": "hello", "gender": "Other", "coins": 9999}, &account)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello", account.Profile.Bio)
	assert.Equal(t, int64(0), account.Coins)

	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodPut, "/dashboard/"+a.User.ID+"/profile", a.Token,
		map[string]string{"gender": "Robot"}, nil))
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")

	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/partner/request", a.Token,
		map[string]string{"partnersUsername": "bob"}, nil))
	assert.Equal(t, http.StatusConflict, env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/partner/request", a.Token,
		map[string]string{"partnersUsername": "bob"}, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodPost, "/dashboard/"+a.User.ID+"/partner/request", a.Token,
		map[string]string{"partnersUsername": "nobody"}, nil))

	var count map[string]int64
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+b.User.ID+"/notifications/count", b.Token, nil, &count))
	assert.Equal(t, int64(1), count["count"])

	var list []struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/dashboard/"+b.User.ID+"/notifications", b.Token, nil, &list))
	require.Len(t, list, 1)

	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodDelete, "/notifications/"+list[0].ID, a.Token, nil, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodDelete, "/notifications/"+list[0].ID, b.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodDelete, "/notifications/"+list[0].ID, b.Token, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodDelete, "/notifications/not-an-id", b.Token, nil, nil))
}

func TestContact(t *testing.T) {
	env := newTestEnv(t)

	code := env.call(t, http.MethodPost, "/send", "", map[string]string{"email": "fan@example.com", "message": "love it", "category": "feedback"}, nil)
	require.Equal(t, http.StatusAccepted, code)

	last := env.emails.messages[len(env.emails.messages)-1]
	assert.Equal(t, queue.EmailContact, last.Kind)
	assert.Equal(t, "team@example.com", last.To)
	assert.Equal(t, "fan@example.com", last.ReplyTo)
	assert.NoError(t, last.Validate())

	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodPost, "/send", "", map[string]string{"email": "nope", "message": "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodPost, "/send", "", map[string]string{"email": "fan@example.com"}, nil))
}

func TestChatThroughGateway(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "alice")
	b := env.register(t, "bob")
	env.pair(t, a, b, "bob")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + a.Token
	ws, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	data, err := json.Marshal(chat.JoinRoom{UserID: a.User.ID, PartnerID: b.User.ID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(chat.Event{Event: chat.EventJoinRoom, Data: data}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev chat.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, chat.EventRoomJoined, ev.Event)
}
