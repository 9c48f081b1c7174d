// Package challenges implements the challenge lifecycle.
//
// A challenge is created by one partner for the other to complete before its deadline.
// Completion credits the owner in the same write that marks it completed. Expiry is lazy:
// nothing sweeps old challenges, the completion attempt that finds one past its deadline
// deletes it and fails with apperr.ErrExpired.
package challenges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service manages challenges.
type Service struct {
	store storage.StorageInterface
	inbox *inbox.Service
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService returns a challenge service.
func NewService(store storage.StorageInterface, inbox *inbox.Service, log logrus.FieldLogger) *Service {
	return &Service{store: store, inbox: inbox, log: log, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Input holds the fields a client supplies when creating a challenge.
type Input struct {
	Description   string            `json:"description"`
	Deadline      time.Time         `json:"deadline"`
	Difficulty    models.Difficulty `json:"difficulty"`
	Coins         int64             `json:"coins"`
	ProofRequired bool              `json:"proofRequired"`
	ProofImage    string            `json:"proofImage,omitempty"`
}

func (in *Input) validate(now time.Time) error {
	in.Description = strings.TrimSpace(in.Description)
	switch {
	case in.Description == "":
		return fmt.Errorf("description: %w", apperr.ErrMissingField)
	case in.Deadline.IsZero():
		return fmt.Errorf("deadline: %w", apperr.ErrMissingField)
	case in.Deadline.Before(now):
		return fmt.Errorf("deadline is in the past: %w", apperr.ErrValidation)
	case !in.Difficulty.Valid():
		return apperr.ErrInvalidDifficulty
	case in.Coins < 0:
		return apperr.ErrInvalidCoins
	}
	return nil
}

// Board is the dashboard summary of an account.
type Board struct {
	Username            string             `json:"username"`
	Coins               int64              `json:"coins"`
	IsConnected         bool               `json:"isConnected"`
	PendingChallenges   []models.Challenge `json:"pendingChallenges"`
	CompletedChallenges []models.Challenge `json:"completedChallenges"`
}

func (s *Service) partnerOf(ctx context.Context, accountID primitive.ObjectID) (*models.Account, *models.Account, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !account.IsPaired || account.PartnerID == nil {
		return nil, nil, apperr.ErrPartnerNotConnected
	}
	partner, err := s.store.FindAccountByID(ctx, *account.PartnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apperr.ErrPartnerNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return account, partner, nil
}

// Create stores a pending challenge assigned by assignerID to their partner and notifies the partner.
func (s *Service) Create(ctx context.Context, assignerID primitive.ObjectID, in Input) (*models.Challenge, error) {
	now := s.now().UTC()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	assigner, partner, err := s.partnerOf(ctx, assignerID)
	if err != nil {
		return nil, err
	}

	challenge, err := s.store.AddChallenge(ctx, &models.Challenge{
		ID:            primitive.NewObjectID(),
		OwnerID:       partner.ID,
		AssignerID:    assigner.ID,
		Description:   in.Description,
		Coins:         in.Coins,
		Deadline:      in.Deadline.UTC(),
		Difficulty:    in.Difficulty,
		ProofRequired: in.ProofRequired,
		ProofImage:    in.ProofImage,
		Status:        models.ChallengePending,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("adding challenge: %w", err)
	}

	s.inbox.NotifyQuietly(ctx, partner.ID, assigner.ID,
		fmt.Sprintf("%s assigned you a new challenge: %s", assigner.Username, challenge.Description),
		models.ChallengeUpdate{ChallengeID: challenge.ID})

	s.log.WithFields(logrus.Fields{"challenge_id": challenge.ID.Hex(), "owner_id": partner.ID.Hex(), "coins": challenge.Coins}).Info("challenge created")
	return challenge, nil
}

// Get returns a challenge by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error) {
	challenge, err := s.store.FindChallenge(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return challenge, err
}

// List returns every challenge the account owns or assigned. Reads never expire anything.
func (s *Service) List(ctx context.Context, accountID primitive.ObjectID) ([]models.Challenge, error) {
	return s.store.FindChallengesFor(ctx, accountID)
}

// Complete marks a challenge completed on behalf of ownerID and credits its coins.
//
// It returns the completed challenge and the owner's new balance.
func (s *Service) Complete(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Challenge, int64, error) {
	challenge, err := s.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if challenge.OwnerID != ownerID {
		return nil, 0, apperr.ErrNotOwner
	}
	if challenge.Status == models.ChallengeCompleted {
		return nil, 0, apperr.ErrAlreadyCompleted
	}

	now := s.now().UTC()
	if challenge.IsExpired(now) {
		return nil, 0, s.expire(ctx, challenge)
	}

	completed, owner, err := s.store.CompleteChallenge(ctx, id, now)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		// Lost a race with another completion, or the deadline passed in between.
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, 0, getErr
		}
		if current.Status == models.ChallengeCompleted {
			return nil, 0, apperr.ErrAlreadyCompleted
		}
		return nil, 0, s.expire(ctx, current)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, apperr.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("completing challenge: %w", err)
	}

	s.inbox.NotifyQuietly(ctx, completed.AssignerID, owner.ID,
		fmt.Sprintf("%s completed the challenge: %s", owner.Username, completed.Description),
		models.ChallengeUpdate{ChallengeID: completed.ID})

	s.log.WithFields(logrus.Fields{"challenge_id": completed.ID.Hex(), "owner_id": owner.ID.Hex(), "balance": owner.Coins}).Info("challenge completed")
	return completed, owner.Coins, nil
}

func (s *Service) expire(ctx context.Context, challenge *models.Challenge) error {
	if _, err := s.store.DeleteChallenge(ctx, challenge.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("deleting expired challenge: %w", err)
	}
	s.log.WithField("challenge_id", challenge.ID.Hex()).Info("challenge expired")
	return apperr.ErrExpired
}

// Delete removes a challenge by id. It performs no ownership check.
func (s *Service) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.store.DeleteChallenge(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}

// Board builds the dashboard of an account from the challenges it owns.
// Pending challenges already past their deadline are left out but not deleted.
func (s *Service) Board(ctx context.Context, accountID primitive.ObjectID) (*Board, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	all, err := s.store.FindChallengesFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	board := &Board{
		Username:            account.Username,
		Coins:               account.Coins,
		IsConnected:         account.IsPaired,
		PendingChallenges:   []models.Challenge{},
		CompletedChallenges: []models.Challenge{},
	}
	now := s.now()
	for _, c := range all {
		if c.OwnerID != accountID {
			continue
		}
		switch {
		case c.Status == models.ChallengeCompleted:
			board.CompletedChallenges = append(board.CompletedChallenges, c)
		case c.Status == models.ChallengePending && !c.IsExpired(now):
			board.PendingChallenges = append(board.PendingChallenges, c)
		}
	}
	return board, nil
}
