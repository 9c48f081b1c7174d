package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/frontend/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseDeadline(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	d, err := parseDeadline("3d", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 3), d)

	d, err = parseDeadline(" 12h ", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(12*time.Hour), d)

	d, err = parseDeadline("2026-03-10", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC), d)

	for _, bad := range []string{"", "0d", "-2h", "2026-03-09", "tomorrow"} {
		_, err := parseDeadline(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestRemaining(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "expired", remaining(now.Add(-time.Second), now))
	assert.Equal(t, "30m left", remaining(now.Add(29*time.Minute+30*time.Second), now))
	assert.Equal(t, "5h left", remaining(now.Add(5*time.Hour+10*time.Minute), now))
	assert.Equal(t, "4d left", remaining(now.Add(4*24*time.Hour+time.Hour), now))
}

func TestRenderBoard(t *testing.T) {
	now := time.Now()
	board := &client.Board{
		Username: "alice",
		Coins:    40,
		PendingChallenges: []models.Challenge{{
			ID:          primitive.NewObjectID(),
			Description: "run 5k",
			Difficulty:  models.DifficultyMedium,
			Coins:       20,
			Status:      models.ChallengePending,
			Deadline:    now.Add(3 * time.Hour),
		}},
	}

	out := renderBoard(board, now)
	assert.Contains(t, out, "alice, you have 40 coins.")
	assert.Contains(t, out, "no partner yet")
	assert.Contains(t, out, "run 5k (medium, 20 coins, 3h left)")
	assert.Contains(t, out, "Completed challenges:\n  none\n")
}

func TestRenderNotification(t *testing.T) {
	sender := primitive.NewObjectID()
	n := models.NewNotification(primitive.NewObjectID(), sender, "bob wants to pair", models.PartnerRequest{SenderID: sender, SenderUsername: "bob"}, time.Now())
	n.ID = primitive.NewObjectID()
	assert.Contains(t, renderNotification(*n), "partner request from bob")

	challengeID := primitive.NewObjectID()
	n = models.NewNotification(primitive.NewObjectID(), sender, "challenge completed", models.ChallengeUpdate{ChallengeID: challengeID}, time.Now())
	assert.Contains(t, renderNotification(*n), challengeID.Hex())
}

func TestRenderChat(t *testing.T) {
	at := time.Date(2026, 1, 1, 18, 5, 0, 0, time.UTC)
	assert.Equal(t, "[18:05] you: hi", renderChat(client.ChatMessage{SenderID: "me", Text: "hi", At: at}, "me"))
	assert.Equal(t, "[18:05] partner: yo", renderChat(client.ChatMessage{SenderID: "them", Text: "yo", At: at}, "me"))
}

func TestCommandSets(t *testing.T) {
	a := &App{}
	names := func(commands []Command) []string {
		out := make([]string, len(commands))
		for i, c := range commands {
			out[i] = c.Name
		}
		return out
	}

	assert.ElementsMatch(t, []string{"signin", "signup"}, names(a.authCommands()))

	var user []string
	user = append(user, names(a.accountCommands())...)
	user = append(user, names(a.boardCommands())...)
	user = append(user, names(a.chatCommands())...)
	for _, want := range []string{"signout", "confirm", "dashboard", "request", "inbox", "accept", "challenge", "complete", "rewards", "reward", "redeem", "chat", "clearchat"} {
		assert.Contains(t, user, want)
	}

	help := helpText(a.authCommands())
	assert.Equal(t, 2, strings.Count(help, "|--"))
}
