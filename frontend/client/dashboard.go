package client

import (
	"net/http"
	"time"

	"github.com/jghoshh/duet/backend/models"
)

// Board is the dashboard summary of the signed in user.
type Board struct {
	Username            string             `json:"username"`
	Coins               int64              `json:"coins"`
	IsConnected         bool               `json:"isConnected"`
	PendingChallenges   []models.Challenge `json:"pendingChallenges"`
	CompletedChallenges []models.Challenge `json:"completedChallenges"`
}

// PartnerView describes the signed in user and their partner.
type PartnerView struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Coins           int64  `json:"coins"`
	IsConnected     bool   `json:"isConnected"`
	PartnerUserID   string `json:"partnerUserId,omitempty"`
	PartnerUsername string `json:"partnerUsername,omitempty"`
	RoomID          string `json:"roomId,omitempty"`
}

// Pair is the answer to an accepted partner request.
type Pair struct {
	User    models.Account `json:"user"`
	Partner models.Account `json:"partner"`
}

// Completion is the answer to a completed challenge.
type Completion struct {
	Message   string           `json:"message"`
	Challenge models.Challenge `json:"challenge"`
	Coins     int64            `json:"coins"`
}

// Redemption is the answer to a redemption attempt. Expired is set, with a
// message, when the reward ran out before it could be redeemed.
type Redemption struct {
	Reward  models.Reward `json:"reward"`
	Coins   int64         `json:"coins"`
	Expired bool          `json:"expired"`
	Message string        `json:"message"`
}

// ChallengeInput describes a challenge assigned to the partner.
type ChallengeInput struct {
	Description   string            `json:"description"`
	Deadline      time.Time         `json:"deadline"`
	Difficulty    models.Difficulty `json:"difficulty"`
	Coins         int64             `json:"coins"`
	ProofRequired bool              `json:"proofRequired"`
}

// RewardInput describes a reward offered to the partner.
type RewardInput struct {
	RewardType    models.RewardType `json:"rewardType"`
	Description   string            `json:"description"`
	CoinsRequired int64             `json:"coinsRequired"`
	Deadline      time.Time         `json:"deadline"`
}

func dashboardPath(userID, rest string) string {
	return "/dashboard/" + userID + rest
}

// Dashboard returns the signed in user's board.
func (c *Client) Dashboard() (*Board, error) {
	var board Board
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, ""), token, nil, &board)
	})
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// Partner returns who the signed in user is paired with.
func (c *Client) Partner() (*PartnerView, error) {
	var view PartnerView
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/partner"), token, nil, &view)
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// RequestPartner sends a partner request to the account named username.
func (c *Client) RequestPartner(username string) (*models.Notification, error) {
	var n models.Notification
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPost, dashboardPath(userID, "/partner/request"), token, map[string]string{"partnersUsername": username}, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// AcceptPartner accepts the partner request carried by notificationID.
func (c *Client) AcceptPartner(notificationID string) (*Pair, error) {
	var pair Pair
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPost, dashboardPath(userID, "/partner/accept"), token, map[string]string{"notificationId": notificationID}, &pair)
	})
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Notifications returns the signed in user's inbox, newest first.
func (c *Client) Notifications() ([]models.Notification, error) {
	var list []models.Notification
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/notifications"), token, nil, &list)
	})
	return list, err
}

// NotificationCount returns the size of the signed in user's inbox.
func (c *Client) NotificationCount() (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/notifications/count"), token, nil, &body)
	})
	return body.Count, err
}

// DeleteNotification removes a notification, rejecting it if it is a partner request.
func (c *Client) DeleteNotification(notificationID string) error {
	return c.authed(func(token, _ string) error {
		return c.do(http.MethodDelete, "/notifications/"+notificationID, token, nil, nil)
	})
}

// CreateChallenge assigns a challenge to the partner.
func (c *Client) CreateChallenge(in ChallengeInput) (*models.Challenge, error) {
	var challenge models.Challenge
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPost, dashboardPath(userID, "/challenges/create"), token, in, &challenge)
	})
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// CompleteChallenge marks one of the signed in user's challenges as done.
func (c *Client) CompleteChallenge(challengeID string) (*Completion, error) {
	var done Completion
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPost, dashboardPath(userID, "/challenges/completed"), token, map[string]string{"challengeId": challengeID}, &done)
	})
	if err != nil {
		return nil, err
	}
	return &done, nil
}

// Challenges returns every challenge the signed in user owns or assigned.
func (c *Client) Challenges() ([]models.Challenge, error) {
	var list []models.Challenge
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/challenges/get"), token, nil, &list)
	})
	return list, err
}

// DeleteChallenge removes a challenge.
func (c *Client) DeleteChallenge(challengeID string) error {
	return c.authed(func(token, _ string) error {
		return c.do(http.MethodDelete, "/challenges/"+challengeID, token, nil, nil)
	})
}

// CreateReward offers a reward to the partner.
func (c *Client) CreateReward(in RewardInput) (*models.Reward, error) {
	var reward models.Reward
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPost, dashboardPath(userID, "/rewards/create"), token, in, &reward)
	})
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// MyRewards returns the live rewards the signed in user can redeem.
func (c *Client) MyRewards() ([]models.Reward, error) {
	var list []models.Reward
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/rewards/get-my-rewards"), token, nil, &list)
	})
	return list, err
}

// OfferedRewards returns the live rewards the signed in user created for their partner.
func (c *Client) OfferedRewards() ([]models.Reward, error) {
	var list []models.Reward
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, dashboardPath(userID, "/rewards/get"), token, nil, &list)
	})
	return list, err
}

// RedeemReward spends coins on a reward.
func (c *Client) RedeemReward(rewardID string) (*Redemption, error) {
	var redemption Redemption
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPut, dashboardPath(userID, "/rewards/"+rewardID+"/redeem"), token, nil, &redemption)
	})
	if err != nil {
		return nil, err
	}
	return &redemption, nil
}

// DeleteReward removes a reward.
func (c *Client) DeleteReward(rewardID string) error {
	return c.authed(func(token, _ string) error {
		return c.do(http.MethodDelete, "/rewards/"+rewardID, token, nil, nil)
	})
}
