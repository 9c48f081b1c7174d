package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/queue"
	"github.com/jghoshh/duet/backend/server"
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
	"github.com/zalando/go-keyring"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	keyring.MockInit()

	log := logger.Discard()
	store := storage.NewMemoryStorage()
	emails := queue.DiscardPublisher{Log: log}
	notes := inbox.NewService(store, log)
	authSvc := auth.NewService(store, emails, "client-test-key", time.Hour, log)
	accountSvc := accounts.NewService(store, log)
	hub := chat.NewHub(authSvc, accountSvc, log)

	srv := server.New(server.Services{
		Auth:       authSvc,
		Accounts:   accountSvc,
		Pairing:    pairing.NewService(store, notes, log),
		Challenges: challenges.NewService(store, notes, log),
		Rewards:    rewards.NewService(store, notes, log),
		Inbox:      notes,
		Emails:     emails,
		Hub:        hub,
	}, server.Options{ContactReceiver: "team@example.com", RateLimitRPS: 100, RateLimitBurst: 100}, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts
}

func signedUp(t *testing.T, serverURL, username string) *Client {
	t.Helper()
	c := New(serverURL, NewKeyring(username))
	_, err := c.SignUp(username, username+"@example.com", "password1")
	require.NoError(t, err)
	return c
}

func paired(t *testing.T, serverURL string) (*Client, *Client) {
	t.Helper()
	alice := signedUp(t, serverURL, "alice")
	bob := signedUp(t, serverURL, "bob")

	_, err := alice.RequestPartner("bob")
	require.NoError(t, err)
	requests, err := bob.Notifications()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, models.NotificationPartnerRequest, requests[0].Type)

	pair, err := bob.AcceptPartner(requests[0].ID.Hex())
	require.NoError(t, err)
	require.True(t, pair.User.IsPaired)
	return alice, bob
}

func TestSignUpSignInSignOut(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, NewKeyring(""))
	require.NoError(t, c.Ping())

	_, err := c.SignUp("carol", "not-an-email", "password1")
	assert.EqualError(t, err, "invalid email format")

	session, err := c.SignUp("carol", "carol@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "carol", session.User.Username)

	token, userID, err := c.Session().Current()
	require.NoError(t, err)
	assert.Equal(t, session.Token, token)
	assert.Equal(t, session.User.ID.Hex(), userID)

	_, err = c.SignIn("carol@example.com", "password1")
	assert.ErrorIs(t, err, ErrAlreadySignedIn)

	require.NoError(t, c.SignOut())
	assert.ErrorIs(t, c.SignOut(), ErrNotSignedIn)
	_, err = c.Dashboard()
	assert.ErrorIs(t, err, ErrNotSignedIn)

	_, err = c.SignIn("carol@example.com", "wrongpass1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = c.SignIn("carol@example.com", "password1")
	require.NoError(t, err)
	profile, err := c.Profile()
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", profile.Email)
}

func TestExpiredTokenIsForgotten(t *testing.T) {
	keyring.MockInit()
	k := NewKeyring("stale")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "abc",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)
	require.NoError(t, k.Save(expired))

	token, userID, err := k.Current()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, userID)

	_, err = keyring.Get(KeyringService, "stale")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestRejectedTokenClearsSession(t *testing.T) {
	ts := newBackend(t)
	k := NewKeyring("forged")
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "64b7f0c2a1b2c3d4e5f60718",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("not-the-server-key"))
	require.NoError(t, err)
	require.NoError(t, k.Save(forged))

	_, err = New(ts.URL, k).Dashboard()
	assert.ErrorIs(t, err, ErrSessionExpired)

	signedIn, err := k.IsUserAuthenticated()
	require.NoError(t, err)
	assert.False(t, signedIn)
}

func TestChallengesAndRewards(t *testing.T) {
	ts := newBackend(t)
	alice, bob := paired(t, ts.URL)

	view, err := bob.Partner()
	require.NoError(t, err)
	assert.Equal(t, "alice", view.PartnerUsername)

	challenge, err := alice.CreateChallenge(ChallengeInput{
		Description: "read a book",
		Deadline:    time.Now().Add(48 * time.Hour),
		Difficulty:  models.DifficultyHard,
		Coins:       80,
	})
	require.NoError(t, err)

	board, err := bob.Dashboard()
	require.NoError(t, err)
	require.Len(t, board.PendingChallenges, 1)
	assert.Equal(t, challenge.ID, board.PendingChallenges[0].ID)

	done, err := bob.CompleteChallenge(challenge.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(80), done.Coins)

	_, err = bob.CompleteChallenge(challenge.ID.Hex())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	reward, err := alice.CreateReward(RewardInput{
		RewardType:    models.RewardGold,
		Description:   "dinner out",
		CoinsRequired: 50,
		Deadline:      time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	offered, err := alice.OfferedRewards()
	require.NoError(t, err)
	assert.Len(t, offered, 1)
	mine, err := bob.MyRewards()
	require.NoError(t, err)
	require.Len(t, mine, 1)

	redemption, err := bob.RedeemReward(reward.ID.Hex())
	require.NoError(t, err)
	assert.False(t, redemption.Expired)
	assert.Equal(t, int64(30), redemption.Coins)

	count, err := alice.NotificationCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, alice.DeleteReward(reward.ID.Hex()))
	require.NoError(t, alice.DeleteChallenge(challenge.ID.Hex()))
	list, err := bob.Challenges()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestContact(t *testing.T) {
	ts := newBackend(t)
	c := New(ts.URL, NewKeyring(""))
	require.NoError(t, c.Contact("visitor@example.com", "hello there", "general"))

	var apiErr *APIError
	require.ErrorAs(t, c.Contact("visitor@example.com", "", "general"), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestChatBetweenPartners(t *testing.T) {
	ts := newBackend(t)
	alice, bob := paired(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceView, err := alice.Partner()
	require.NoError(t, err)
	bobView, err := bob.Partner()
	require.NoError(t, err)

	aliceCache, bobCache := NewChatCache(), NewChatCache()
	aliceChat, err := alice.OpenChat(ctx, aliceCache)
	require.NoError(t, err)
	defer aliceChat.Close()
	bobChat, err := bob.OpenChat(ctx, bobCache)
	require.NoError(t, err)
	defer bobChat.Close()

	_, err = aliceChat.Join(ctx, aliceView.ID, aliceView.ID)
	assert.Error(t, err)

	room, err := aliceChat.Join(ctx, aliceView.ID, aliceView.PartnerUserID)
	require.NoError(t, err)
	assert.Equal(t, aliceView.RoomID, room)
	bobRoom, err := bobChat.Join(ctx, bobView.ID, bobView.PartnerUserID)
	require.NoError(t, err)
	assert.Equal(t, room, bobRoom)

	require.NoError(t, aliceChat.Send(room, "hi bob"))

	select {
	case msg := <-bobChat.Messages():
		assert.Equal(t, "hi bob", msg.Text)
		assert.Equal(t, aliceView.ID, msg.SenderID)
	case <-ctx.Done():
		t.Fatal("bob never got the message")
	}

	require.Len(t, bobCache.History(room), 1)
	bobCache.Clear()
	assert.Empty(t, bobCache.History(room))
}

func TestChatCacheIsBounded(t *testing.T) {
	cache := NewChatCache()
	for i := 0; i < maxCachedMessages+10; i++ {
		cache.Append(ChatMessage{RoomID: "a-b", Text: "m"})
	}
	cache.Append(ChatMessage{RoomID: "a-b", Text: "last"})

	history := cache.History("a-b")
	assert.Len(t, history, maxCachedMessages)
	assert.Equal(t, "last", history[len(history)-1].Text)
	assert.Empty(t, cache.History("c-d"))
}

func TestChatURL(t *testing.T) {
	u, err := chatURL("https://duet.example.com/api/", "tok")
	require.NoError(t, err)
	assert.Equal(t, "wss://duet.example.com/api/ws?token=tok", u)

	u, err = chatURL("http://localhost:8080", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?token=tok", u)
}
