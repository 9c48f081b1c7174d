package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage keeps every collection in process memory behind one mutex.
// It implements StorageInterface with the same semantics as MongoStorage and is used
// for local runs without a database and by the service tests.
type MemoryStorage struct {
	mu            sync.Mutex
	accounts      map[primitive.ObjectID]models.Account
	confirmations map[primitive.ObjectID]models.Confirmation
	notifications map[primitive.ObjectID]models.Notification
	challenges    map[primitive.ObjectID]models.Challenge
	rewards       map[primitive.ObjectID]models.Reward
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		accounts:      make(map[primitive.ObjectID]models.Account),
		confirmations: make(map[primitive.ObjectID]models.Confirmation),
		notifications: make(map[primitive.ObjectID]models.Notification),
		challenges:    make(map[primitive.ObjectID]models.Challenge),
		rewards:       make(map[primitive.ObjectID]models.Reward),
	}
}

// Connect is a no-op.
func (s *MemoryStorage) Connect(dbName, uri string) error { return nil }

// Disconnect is a no-op.
func (s *MemoryStorage) Disconnect() error { return nil }

func (s *MemoryStorage) AddAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == account.Username || existing.Email == account.Email {
			return nil, ErrDuplicate
		}
	}
	if account.ID.IsZero() {
		account.ID = primitive.NewObjectID()
	}
	s.accounts[account.ID] = *account
	out := *account
	return &out, nil
}

func (s *MemoryStorage) FindAccountByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (s *MemoryStorage) findAccount(match func(models.Account) bool) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if match(account) {
			out := account
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.findAccount(func(a models.Account) bool { return a.Username == username })
}

func (s *MemoryStorage) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findAccount(func(a models.Account) bool { return a.Email == email })
}

// mutateAccount applies fn to the stored account under the lock.
// fn returning an error leaves the account unchanged.
func (s *MemoryStorage) mutateAccount(id primitive.ObjectID, fn func(*models.Account) error) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&account); err != nil {
		return nil, err
	}
	s.accounts[id] = account
	return &account, nil
}

func (s *MemoryStorage) UpdateProfile(ctx context.Context, id primitive.ObjectID, profile models.Profile) (*models.Account, error) {
	return s.mutateAccount(id, func(a *models.Account) error {
		a.Profile = profile
		return nil
	})
}

func (s *MemoryStorage) SetEmailConfirmed(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.mutateAccount(id, func(a *models.Account) error {
		a.EmailConfirmed = true
		return nil
	})
	return err
}

func (s *MemoryStorage) TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.mutateAccount(id, func(a *models.Account) error {
		a.LastLogin = at
		return nil
	})
	return err
}

func (s *MemoryStorage) AdjustCoins(ctx context.Context, id primitive.ObjectID, delta int64) (*models.Account, error) {
	return s.mutateAccount(id, func(a *models.Account) error {
		if a.Coins+delta < 0 {
			return ErrInsufficientBalance
		}
		a.Coins += delta
		return nil
	})
}

func (s *MemoryStorage) SetPairing(ctx context.Context, id primitive.ObjectID, partner *primitive.ObjectID) (*models.Account, error) {
	return s.mutateAccount(id, func(a *models.Account) error {
		if partner == nil {
			a.PartnerID = nil
			a.IsPaired = false
			return nil
		}
		p := *partner
		a.PartnerID = &p
		a.IsPaired = true
		return nil
	})
}

func (s *MemoryStorage) PairAccounts(ctx context.Context, a, b primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, ok := s.accounts[a]
	if !ok {
		return ErrNotFound
	}
	second, ok := s.accounts[b]
	if !ok {
		return ErrNotFound
	}
	if first.IsPaired || second.IsPaired {
		return ErrPreconditionFailed
	}

	aID, bID := a, b
	first.PartnerID, first.IsPaired = &bID, true
	second.PartnerID, second.IsPaired = &aID, true
	s.accounts[a] = first
	s.accounts[b] = second
	return nil
}

func (s *MemoryStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if confirmation.ID.IsZero() {
		confirmation.ID = primitive.NewObjectID()
	}
	s.confirmations[confirmation.ID] = *confirmation
	out := *confirmation
	return &out, nil
}

func (s *MemoryStorage) FindConfirmation(ctx context.Context, userID primitive.ObjectID) (*models.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, confirmation := range s.confirmations {
		if confirmation.UserID == userID {
			out := confirmation
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) DeleteConfirmation(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.confirmations[id]; !ok {
		return nil, ErrNotFound
	}
	delete(s.confirmations, id)
	return &DeleteResult{DeletedCount: 1}, nil
}

func (s *MemoryStorage) AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notification.ID.IsZero() {
		notification.ID = primitive.NewObjectID()
	}
	s.notifications[notification.ID] = *notification
	out := *notification
	return &out, nil
}

func (s *MemoryStorage) FindNotification(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &notification, nil
}

func (s *MemoryStorage) FindNotifications(ctx context.Context, receiverID primitive.ObjectID) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Notification{}
	for _, notification := range s.notifications {
		if notification.ReceiverID == receiverID {
			out = append(out, notification)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) NotificationExists(ctx context.Context, senderID, receiverID primitive.ObjectID, typ models.NotificationType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.SenderID == senderID && n.ReceiverID == receiverID && n.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) DeleteNotification(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return nil, ErrNotFound
	}
	delete(s.notifications, id)
	return &DeleteResult{DeletedCount: 1}, nil
}

func (s *MemoryStorage) NotificationCount(ctx context.Context, receiverID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, n := range s.notifications {
		if n.ReceiverID == receiverID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) AddChallenge(ctx context.Context, challenge *models.Challenge) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if challenge.ID.IsZero() {
		challenge.ID = primitive.NewObjectID()
	}
	s.challenges[challenge.ID] = *challenge
	out := *challenge
	return &out, nil
}

func (s *MemoryStorage) FindChallenge(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &challenge, nil
}

func (s *MemoryStorage) FindChallengesFor(ctx context.Context, accountID primitive.ObjectID) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Challenge{}
	for _, c := range s.challenges {
		if c.OwnerID == accountID || c.AssignerID == accountID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (s *MemoryStorage) CompleteChallenge(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Challenge, *models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if challenge.Status != models.ChallengePending || now.After(challenge.Deadline) {
		return nil, nil, ErrPreconditionFailed
	}
	owner, ok := s.accounts[challenge.OwnerID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	completedAt := now
	challenge.Status = models.ChallengeCompleted
	challenge.CompletedAt = &completedAt
	owner.Coins += challenge.Coins

	s.challenges[id] = challenge
	s.accounts[owner.ID] = owner
	return &challenge, &owner, nil
}

func (s *MemoryStorage) DeleteChallenge(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[id]; !ok {
		return nil, ErrNotFound
	}
	delete(s.challenges, id)
	return &DeleteResult{DeletedCount: 1}, nil
}

func (s *MemoryStorage) AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reward.ID.IsZero() {
		reward.ID = primitive.NewObjectID()
	}
	s.rewards[reward.ID] = *reward
	out := *reward
	return &out, nil
}

func (s *MemoryStorage) FindReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward, ok := s.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &reward, nil
}

func (s *MemoryStorage) findRewards(match func(models.Reward) bool) []models.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Reward{}
	for _, r := range s.rewards {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStorage) FindRewardsByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]models.Reward, error) {
	return s.findRewards(func(r models.Reward) bool { return r.OwnerID == ownerID }), nil
}

func (s *MemoryStorage) FindRewardsByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Reward, error) {
	return s.findRewards(func(r models.Reward) bool { return r.CreatorID == creatorID }), nil
}

func (s *MemoryStorage) RedeemReward(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Reward, *models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward, ok := s.rewards[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if reward.Redeemed || reward.Deleted {
		return nil, nil, ErrPreconditionFailed
	}
	owner, ok := s.accounts[reward.OwnerID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if owner.Coins < reward.CoinsRequired {
		return nil, nil, ErrInsufficientBalance
	}

	redeemedAt := now
	reward.Redeemed = true
	reward.RedeemedAt = &redeemedAt
	owner.Coins -= reward.CoinsRequired

	s.rewards[id] = reward
	s.accounts[owner.ID] = owner
	return &reward, &owner, nil
}

func (s *MemoryStorage) ExpireReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward, ok := s.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	reward.Deleted = true
	s.rewards[id] = reward
	return &reward, nil
}

func (s *MemoryStorage) DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rewards[id]; !ok {
		return nil, ErrNotFound
	}
	delete(s.rewards, id)
	return &DeleteResult{DeletedCount: 1}, nil
}
