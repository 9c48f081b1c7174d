package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate key")
	// ErrPreconditionFailed is returned when a conditional update finds the
	// document in a state other than the expected one.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInsufficientBalance is returned when a coin debit would take a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement.
//
// Every method that changes more than one document (PairAccounts, CompleteChallenge,
// RedeemReward) is all-or-nothing, and every state transition is a conditional update on
// the expected prior state, so concurrent callers can never both win.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error

	// Adds a new account. Fails with ErrDuplicate when the username or email is taken.
	AddAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	// Finds an account by id.
	FindAccountByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
	// Finds an account by its unique username.
	FindAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	// Finds an account by its unique email.
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// Replaces the profile attributes of an account.
	UpdateProfile(ctx context.Context, id primitive.ObjectID, profile models.Profile) (*models.Account, error)
	// Marks the email of an account as confirmed.
	SetEmailConfirmed(ctx context.Context, id primitive.ObjectID) error
	// Records a successful sign in.
	TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
	// Adds delta to the coin balance. A negative delta only applies when the balance covers it,
	// otherwise ErrInsufficientBalance is returned and nothing changes.
	AdjustCoins(ctx context.Context, id primitive.ObjectID, delta int64) (*models.Account, error)
	// Sets or clears (partner == nil) the pairing fields of one account.
	SetPairing(ctx context.Context, id primitive.ObjectID, partner *primitive.ObjectID) (*models.Account, error)
	// Links a and b to each other. Fails with ErrPreconditionFailed when either one is already paired.
	PairAccounts(ctx context.Context, a, b primitive.ObjectID) error

	// Adds a new confirmation.
	AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error)
	// Finds the confirmation issued to a user.
	FindConfirmation(ctx context.Context, userID primitive.ObjectID) (*models.Confirmation, error)
	// Deletes a confirmation by id.
	DeleteConfirmation(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new notification.
	AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error)
	// Finds a notification by id.
	FindNotification(ctx context.Context, id primitive.ObjectID) (*models.Notification, error)
	// Lists the notifications of a receiver, newest first.
	FindNotifications(ctx context.Context, receiverID primitive.ObjectID) ([]models.Notification, error)
	// Reports whether a notification from sender to receiver of the given type exists.
	NotificationExists(ctx context.Context, senderID, receiverID primitive.ObjectID, typ models.NotificationType) (bool, error)
	// Deletes a notification by id.
	DeleteNotification(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Counts the notifications of a receiver.
	NotificationCount(ctx context.Context, receiverID primitive.ObjectID) (int64, error)

	// Adds a new challenge.
	AddChallenge(ctx context.Context, challenge *models.Challenge) (*models.Challenge, error)
	// Finds a challenge by id.
	FindChallenge(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error)
	// Lists the challenges an account owns or assigned.
	FindChallengesFor(ctx context.Context, accountID primitive.ObjectID) ([]models.Challenge, error)
	// Moves a pending, not yet expired challenge to completed and credits its owner.
	// Fails with ErrPreconditionFailed when the challenge is not pending or is past its deadline at now.
	CompleteChallenge(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Challenge, *models.Account, error)
	// Deletes a challenge by id.
	DeleteChallenge(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)

	// Adds a new reward.
	AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error)
	// Finds a reward by id.
	FindReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error)
	// Lists the rewards an account may redeem.
	FindRewardsByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]models.Reward, error)
	// Lists the rewards an account created.
	FindRewardsByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Reward, error)
	// Marks an available reward redeemed and debits its owner.
	// Fails with ErrPreconditionFailed when the reward is redeemed or flagged deleted,
	// and with ErrInsufficientBalance when the owner cannot cover it.
	RedeemReward(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Reward, *models.Account, error)
	// Flags a reward as deleted.
	ExpireReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error)
	// Deletes a reward by id.
	DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
