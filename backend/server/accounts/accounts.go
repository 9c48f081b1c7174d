// Package accounts serves the profile and partner views of an account.
package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/server/chat"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var genders = map[string]bool{"Male": true, "Female": true, "Other": true}

// Service reads accounts and edits their profile attributes.
type Service struct {
	store storage.StorageInterface
	log   logrus.FieldLogger
}

// NewService returns an accounts service backed by store.
func NewService(store storage.StorageInterface, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log}
}

// PartnerView summarizes an account and the partner it is paired with.
type PartnerView struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Coins           int64  `json:"coins"`
	IsConnected     bool   `json:"isConnected"`
	PartnerUserID   string `json:"partnerUserId,omitempty"`
	PartnerUsername string `json:"partnerUsername,omitempty"`
	RoomID          string `json:"roomId,omitempty"`
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	account, err := s.store.FindAccountByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrAccountNotFound
	}
	return account, err
}

// PartnerOf returns the partner of an account.
// It fails with apperr.ErrPartnerNotConnected when the account is unpaired.
func (s *Service) PartnerOf(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsPaired || account.PartnerID == nil {
		return nil, apperr.ErrPartnerNotConnected
	}
	partner, err := s.store.FindAccountByID(ctx, *account.PartnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrPartnerNotFound
	}
	return partner, err
}

// Partner builds the partner view of an account. An unpaired account gets a view
// with IsConnected false and no partner fields.
func (s *Service) Partner(ctx context.Context, id primitive.ObjectID) (*PartnerView, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &PartnerView{
		ID:          account.ID.Hex(),
		Username:    account.Username,
		Coins:       account.Coins,
		IsConnected: account.IsPaired,
	}
	if !account.IsPaired || account.PartnerID == nil {
		return view, nil
	}

	partner, err := s.store.FindAccountByID(ctx, *account.PartnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	view.PartnerUserID = partner.ID.Hex()
	view.PartnerUsername = partner.Username
	view.RoomID = chat.RoomID(account.ID.Hex(), partner.ID.Hex())
	return view, nil
}

// UpdateProfile replaces the profile attributes of an account.
// Coins, pairing and credentials are not reachable from here.
func (s *Service) UpdateProfile(ctx context.Context, id primitive.ObjectID, profile models.Profile) (*models.Account, error) {
	profile.Gender = strings.TrimSpace(profile.Gender)
	if profile.Gender != "" && !genders[profile.Gender] {
		return nil, apperr.ErrInvalidGender
	}

	account, err := s.store.UpdateProfile(ctx, id, profile)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", id.Hex()).Debug("profile updated")
	return account, nil
}
