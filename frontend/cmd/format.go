package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/frontend/client"
)

const dateLayout = "2006-01-02"

// parseDeadline reads a deadline either as an offset from now ("3d", "12h", "90m")
// or as a calendar date, which means the end of that day in local time.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("deadline cannot be empty")
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil {
			if days <= 0 {
				return time.Time{}, errors.New("deadline must be in the future")
			}
			return now.AddDate(0, 0, days), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, errors.New("deadline must be in the future")
		}
		return now.Add(d), nil
	}

	day, err := time.ParseInLocation(dateLayout, s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a duration like 3d or 12h nor a date like %s", s, dateLayout)
	}
	deadline := day.Add(24*time.Hour - time.Second)
	if !deadline.After(now) {
		return time.Time{}, errors.New("deadline must be in the future")
	}
	return deadline, nil
}

// remaining describes how long until deadline.
func remaining(deadline, now time.Time) string {
	left := deadline.Sub(now)
	switch {
	case left <= 0:
		return "expired"
	case left < time.Hour:
		return fmt.Sprintf("%dm left", int(left.Minutes())+1)
	case left < 48*time.Hour:
		return fmt.Sprintf("%dh left", int(left.Hours()))
	default:
		return fmt.Sprintf("%dd left", int(left.Hours()/24))
	}
}

func renderChallenge(ch models.Challenge, now time.Time) string {
	status := string(ch.Status)
	if ch.Status == models.ChallengePending {
		status = remaining(ch.Deadline, now)
	}
	return fmt.Sprintf("  [%s] %s (%s, %d coins, %s)\n", ch.ID.Hex(), ch.Description, ch.Difficulty, ch.Coins, status)
}

func renderBoard(board *client.Board, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, you have %d coins.\n", board.Username, board.Coins)
	if !board.IsConnected {
		b.WriteString("You have no partner yet. Use 'request' to send a partner request.\n")
	}

	b.WriteString("Pending challenges:\n")
	if len(board.PendingChallenges) == 0 {
		b.WriteString("  none\n")
	}
	for _, ch := range board.PendingChallenges {
		b.WriteString(renderChallenge(ch, now))
	}
	b.WriteString("Completed challenges:\n")
	if len(board.CompletedChallenges) == 0 {
		b.WriteString("  none\n")
	}
	for _, ch := range board.CompletedChallenges {
		b.WriteString(renderChallenge(ch, now))
	}
	return b.String()
}

func renderReward(r models.Reward, now time.Time) string {
	state := remaining(r.Deadline, now)
	if r.Redeemed {
		state = "redeemed"
	}
	return fmt.Sprintf("  [%s] %s %s (%d coins, %s)\n", r.ID.Hex(), r.RewardType, r.Description, r.CoinsRequired, state)
}

func renderNotification(n models.Notification) string {
	switch p := n.Payload().(type) {
	case models.PartnerRequest:
		return fmt.Sprintf("  [%s] partner request from %s, type 'accept' to pair up\n", n.ID.Hex(), p.SenderUsername)
	case models.ChallengeUpdate:
		return fmt.Sprintf("  [%s] %s (challenge %s)\n", n.ID.Hex(), n.Message, p.ChallengeID.Hex())
	default:
		return fmt.Sprintf("  [%s] %s\n", n.ID.Hex(), n.Message)
	}
}

func renderChat(msg client.ChatMessage, selfID string) string {
	who := "partner"
	if msg.SenderID == selfID {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.At.Format("15:04"), who, msg.Text)
}
