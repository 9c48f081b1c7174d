package models

import (
	"fmt"
	"time"

	"github.com/jghoshh/duet/lib/apperr"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseID decodes a hex object id received from a client.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%q: %w", hex, apperr.ErrInvalidID)
	}
	return id, nil
}

// Confirmation holds the hashed email confirmation token issued at registration.
type Confirmation struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            primitive.ObjectID `bson:"user_id,omitempty" json:"user_id"`
	ConfirmationToken string             `bson:"token" json:"token"`
	ExpiresAt         time.Time          `bson:"expires_at" json:"expires_at"`
}

// Preferences are the per account client settings.
type Preferences struct {
	ReceiveNotifications bool   `bson:"receive_notifications" json:"receiveNotifications"`
	Theme                string `bson:"theme" json:"theme"`
}

// Profile is the editable part of an account. It carries no invariants.
type Profile struct {
	FirstName      string      `bson:"first_name" json:"firstName"`
	LastName       string      `bson:"last_name" json:"lastName"`
	Bio            string      `bson:"bio" json:"bio"`
	Location       string      `bson:"location" json:"location"`
	ProfilePicture string      `bson:"profile_picture" json:"profilePicture"`
	Gender         string      `bson:"gender,omitempty" json:"gender,omitempty"`
	DateOfBirth    *time.Time  `bson:"date_of_birth,omitempty" json:"dateOfBirth,omitempty"`
	Preferences    Preferences `bson:"preferences" json:"preferences"`
}

// Account is a registered user.
//
// PartnerID and IsPaired always move together: both are set by the pairing
// protocol and an account with IsPaired == false has a nil PartnerID.
type Account struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Username       string              `bson:"username" json:"username"`
	Email          string              `bson:"email" json:"email"`
	PasswordHash   string              `bson:"password_hash" json:"-"`
	EmailConfirmed bool                `bson:"email_confirmed" json:"isVerified"`
	Coins          int64               `bson:"coins" json:"coins"`
	PartnerID      *primitive.ObjectID `bson:"partner_id" json:"partnerUserId,omitempty"`
	IsPaired       bool                `bson:"is_paired" json:"isConnected"`
	Profile        Profile             `bson:"profile" json:"profile"`
	CreatedAt      time.Time           `bson:"created_at" json:"createdAt"`
	LastLogin      time.Time           `bson:"last_login,omitempty" json:"lastLogin,omitempty"`
}

// PartnerOf reports whether other is the account this one is paired with.
func (a *Account) PartnerOf(other primitive.ObjectID) bool {
	return a.IsPaired && a.PartnerID != nil && *a.PartnerID == other
}

// NotificationType discriminates the payload carried by a Notification.
type NotificationType string

const (
	NotificationPartnerRequest  NotificationType = "partner_request"
	NotificationPartnerConfirm  NotificationType = "partner_confirm"
	NotificationChallengeUpdate NotificationType = "challenge_update"
	NotificationOther           NotificationType = "other"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationPartnerRequest, NotificationPartnerConfirm, NotificationChallengeUpdate, NotificationOther:
		return true
	}
	return false
}

// Notification is an inbox entry. Its stored form is flat; Payload returns the
// typed variant selected by Type.
type Notification struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ReceiverID     primitive.ObjectID  `bson:"receiver_id" json:"receiverId"`
	SenderID       primitive.ObjectID  `bson:"sender_id" json:"senderId"`
	Message        string              `bson:"message" json:"message"`
	Type           NotificationType    `bson:"type" json:"type"`
	IsAccepted     bool                `bson:"is_accepted" json:"isAccepted"`
	SenderUsername string              `bson:"sender_username,omitempty" json:"senderUsername,omitempty"`
	ChallengeID    *primitive.ObjectID `bson:"challenge_id,omitempty" json:"challengeId,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"createdAt"`
}

// NotificationPayload is implemented by the variants of a notification.
type NotificationPayload interface {
	Kind() NotificationType
}

// PartnerRequest asks the receiver to become the sender's partner.
type PartnerRequest struct {
	SenderID       primitive.ObjectID
	SenderUsername string
}

// PartnerConfirm belongs to the retired two-step handshake. It is decoded when
// found in storage but never produced.
type PartnerConfirm struct {
	SenderID primitive.ObjectID
}

// ChallengeUpdate points at a challenge that was created or completed.
type ChallengeUpdate struct {
	ChallengeID primitive.ObjectID
}

// Other is a plain informational message.
type Other struct{}

func (PartnerRequest) Kind() NotificationType  { return NotificationPartnerRequest }
func (PartnerConfirm) Kind() NotificationType  { return NotificationPartnerConfirm }
func (ChallengeUpdate) Kind() NotificationType { return NotificationChallengeUpdate }
func (Other) Kind() NotificationType           { return NotificationOther }

// NewNotification builds a notification for receiver carrying payload.
func NewNotification(receiver, sender primitive.ObjectID, message string, payload NotificationPayload, now time.Time) *Notification {
	n := &Notification{
		ReceiverID: receiver,
		SenderID:   sender,
		Message:    message,
		Type:       payload.Kind(),
		CreatedAt:  now,
	}
	switch p := payload.(type) {
	case PartnerRequest:
		n.SenderID = p.SenderID
		n.SenderUsername = p.SenderUsername
	case PartnerConfirm:
		n.SenderID = p.SenderID
	case ChallengeUpdate:
		id := p.ChallengeID
		n.ChallengeID = &id
	}
	return n
}

// Payload returns the typed variant of the notification.
func (n *Notification) Payload() NotificationPayload {
	switch n.Type {
	case NotificationPartnerRequest:
		return PartnerRequest{SenderID: n.SenderID, SenderUsername: n.SenderUsername}
	case NotificationPartnerConfirm:
		return PartnerConfirm{SenderID: n.SenderID}
	case NotificationChallengeUpdate:
		var id primitive.ObjectID
		if n.ChallengeID != nil {
			id = *n.ChallengeID
		}
		return ChallengeUpdate{ChallengeID: id}
	default:
		return Other{}
	}
}

// Difficulty of a challenge.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of easy, medium or hard.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// ChallengeStatus is the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
)

// Challenge is a task assigned by AssignerID for OwnerID to complete.
type Challenge struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID       primitive.ObjectID `bson:"owner_id" json:"ownerId"`
	AssignerID    primitive.ObjectID `bson:"assigner_id" json:"assignerId"`
	Description   string             `bson:"description" json:"description"`
	Coins         int64              `bson:"coins" json:"coins"`
	Deadline      time.Time          `bson:"deadline" json:"deadline"`
	Difficulty    Difficulty         `bson:"difficulty" json:"difficulty"`
	ProofRequired bool               `bson:"proof_required" json:"proofRequired"`
	ProofImage    string             `bson:"proof_image,omitempty" json:"proofImage,omitempty"`
	Status        ChallengeStatus    `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	CompletedAt   *time.Time         `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// IsExpired reports whether a pending challenge is past its deadline at now.
// A challenge in that state is logically expired even though nothing has been written yet.
func (c *Challenge) IsExpired(now time.Time) bool {
	return c.Status == ChallengePending && now.After(c.Deadline)
}

// RewardType is the tier of a reward.
type RewardType string

const (
	RewardGold    RewardType = "gold"
	RewardDiamond RewardType = "diamond"
	RewardSilver  RewardType = "silver"
)

// Valid reports whether r is one of gold, diamond or silver.
func (r RewardType) Valid() bool {
	return r == RewardGold || r == RewardDiamond || r == RewardSilver
}

// Reward is offered by CreatorID for OwnerID to redeem with coins.
// Deleted marks a reward found expired on a redemption attempt.
type Reward struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID       primitive.ObjectID `bson:"owner_id" json:"ownerId"`
	CreatorID     primitive.ObjectID `bson:"creator_id" json:"creatorId"`
	RewardType    RewardType         `bson:"reward_type" json:"rewardType"`
	Description   string             `bson:"description" json:"description"`
	CoinsRequired int64              `bson:"coins_required" json:"coinsRequired"`
	Redeemed      bool               `bson:"redeemed" json:"redeemed"`
	Deleted       bool               `bson:"deleted" json:"deleted"`
	Deadline      time.Time          `bson:"deadline" json:"deadline"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	RedeemedAt    *time.Time         `bson:"redeemed_at,omitempty" json:"redeemedAt,omitempty"`
}

// IsExpired reports whether the reward is past its deadline at now.
func (r *Reward) IsExpired(now time.Time) bool {
	return now.After(r.Deadline)
}
