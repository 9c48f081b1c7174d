// Package rewards implements the reward lifecycle: one partner offers a reward, the other
// spends coins to redeem it.
//
// A reward found past its deadline on redemption is flagged deleted and reported back as an
// expired result instead of an error.
package rewards

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

// ExpiredMessage is returned to a client redeeming a reward past its deadline.
const ExpiredMessage = "reward has already expired"

type Service struct {
	store storage.StorageInterface
	inbox *inbox.Service
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store storage.StorageInterface, inbox *inbox.Service, log logrus.FieldLogger) *Service {
	return &Service{store: store, inbox: inbox, log: log, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Input holds the fields a client supplies when creating a reward.
type Input struct {
	RewardType    models.RewardType `json:"rewardType"`
	Description   string            `json:"description"`
	CoinsRequired int64             `json:"coinsRequired"`
	Deadline      time.Time         `json:"deadline"`
}

func (in *Input) validate(now time.Time) error {
	in.Description = strings.TrimSpace(in.Description)
	switch {
	case in.RewardType == "":
		return fmt.Errorf("rewardType: %w", apperr.ErrMissingField)
	case !in.RewardType.Valid():
		return apperr.ErrInvalidRewardType
	case in.Description == "":
		return fmt.Errorf("description: %w", apperr.ErrMissingField)
	case in.CoinsRequired <= 0:
		return apperr.ErrInvalidCoins
	case in.Deadline.IsZero():
		return fmt.Errorf("deadline: %w", apperr.ErrMissingField)
	case in.Deadline.Before(now):
		return fmt.Errorf("deadline is in the past: %w", apperr.ErrValidation)
	}
	return nil
}

// Redemption is the outcome of a redemption attempt that did not fail.
// Expired is set when the reward was found past its deadline; nothing was debited then.
type Redemption struct {
	Reward  *models.Reward `json:"reward"`
	Balance int64          `json:"coins"`
	Expired bool           `json:"expired"`
	Message string         `json:"message"`
}

// Create stores a reward offered by creatorID to their partner and notifies the partner.
func (s *Service) Create(ctx context.Context, creatorID primitive.ObjectID, in Input) (*models.Reward, error) {
	now := s.now().UTC()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	creator, err := s.store.FindAccountByID(ctx, creatorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if !creator.IsPaired || creator.PartnerID == nil {
		return nil, apperr.ErrPartnerNotConnected
	}

	reward, err := s.store.AddReward(ctx, &models.Reward{
		ID:            primitive.NewObjectID(),
		OwnerID:       *creator.PartnerID,
		CreatorID:     creator.ID,
		RewardType:    in.RewardType,
		Description:   in.Description,
		CoinsRequired: in.CoinsRequired,
		Deadline:      in.Deadline.UTC(),
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("adding reward: %w", err)
	}

	s.inbox.NotifyQuietly(ctx, reward.OwnerID, creator.ID,
		fmt.Sprintf("%s offered you a %s reward: %s", creator.Username, reward.RewardType, reward.Description),
		models.Other{})

	s.log.WithFields(logrus.Fields{"reward_id": reward.ID.Hex(), "owner_id": reward.OwnerID.Hex()}).Info("reward created")
	return reward, nil
}

// Get returns a reward by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	reward, err := s.store.FindReward(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return reward, err
}

// ListOwned returns the live rewards accountID may redeem.
func (s *Service) ListOwned(ctx context.Context, accountID primitive.ObjectID) ([]models.Reward, error) {
	rewards, err := s.store.FindRewardsByOwner(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.live(rewards), nil
}

// ListCreated returns the live rewards accountID offered.
func (s *Service) ListCreated(ctx context.Context, accountID primitive.ObjectID) ([]models.Reward, error) {
	rewards, err := s.store.FindRewardsByCreator(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.live(rewards), nil
}

func (s *Service) live(rewards []models.Reward) []models.Reward {
	now := s.now()
	out := make([]models.Reward, 0, len(rewards))
	for _, r := range rewards {
		if !r.Deleted && !r.IsExpired(now) {
			out = append(out, r)
		}
	}
	return out
}

// Redeem spends the owner's coins on a reward.
//
// The debit and the redeemed flag are written together; when the balance does not cover the
// reward it fails with apperr.ErrInsufficientCoins and neither changes.
func (s *Service) Redeem(ctx context.Context, id, ownerID primitive.ObjectID) (*Redemption, error) {
	reward, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reward.OwnerID != ownerID {
		return nil, apperr.ErrNotOwner
	}
	if reward.Redeemed {
		return nil, apperr.ErrAlreadyRedeemed
	}

	now := s.now().UTC()
	if reward.Deleted || reward.IsExpired(now) {
		return s.expire(ctx, reward)
	}

	redeemed, owner, err := s.store.RedeemReward(ctx, id, now)
	switch {
	case errors.Is(err, storage.ErrInsufficientBalance):
		return nil, apperr.ErrInsufficientCoins
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.ErrNotFound
	case errors.Is(err, storage.ErrPreconditionFailed):
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Redeemed {
			return nil, apperr.ErrAlreadyRedeemed
		}
		return s.expire(ctx, current)
	case err != nil:
		return nil, fmt.Errorf("redeeming reward: %w", err)
	}

	s.inbox.NotifyQuietly(ctx, redeemed.CreatorID, owner.ID,
		fmt.Sprintf("%s redeemed your reward: %s", owner.Username, redeemed.Description),
		models.Other{})

	s.log.WithFields(logrus.Fields{"reward_id": redeemed.ID.Hex(), "owner_id": owner.ID.Hex(), "balance": owner.Coins}).Info("reward redeemed")
	return &Redemption{Reward: redeemed, Balance: owner.Coins, Message: "reward redeemed"}, nil
}

func (s *Service) expire(ctx context.Context, reward *models.Reward) (*Redemption, error) {
	if !reward.Deleted {
		expired, err := s.store.ExpireReward(ctx, reward.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.ErrNotFound
			}
			return nil, fmt.Errorf("expiring reward: %w", err)
		}
		reward = expired
		s.log.WithField("reward_id", reward.ID.Hex()).Info("reward expired")
	}

	var balance int64
	if owner, err := s.store.FindAccountByID(ctx, reward.OwnerID); err == nil {
		balance = owner.Coins
	}
	return &Redemption{Reward: reward, Balance: balance, Expired: true, Message: ExpiredMessage}, nil
}

// Delete removes a reward by id. It performs no ownership check.
func (s *Service) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.store.DeleteReward(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}
