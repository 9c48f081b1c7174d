// Package pairing runs the partner handshake.
//
// A request is a partner_request notification in the target's inbox. Accepting it links both
// accounts in one conditional write and consumes the notification; deleting it rejects the
// request. There is no second confirmation step.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service implements the pairing handshake.
type Service struct {
	store storage.StorageInterface
	inbox *inbox.Service
	log   logrus.FieldLogger
}

// NewService returns a pairing service.
func NewService(store storage.StorageInterface, inbox *inbox.Service, log logrus.FieldLogger) *Service {
	return &Service{store: store, inbox: inbox, log: log}
}

// Pair is the result of an accepted request.
type Pair struct {
	Accepter  *models.Account `json:"user"`
	Requester *models.Account `json:"partner"`
}

func (s *Service) account(ctx context.Context, id primitive.ObjectID, missing error) (*models.Account, error) {
	account, err := s.store.FindAccountByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, missing
	}
	return account, err
}

// SendPartnerRequest asks the account named targetUsername to pair with senderID.
//
// It fails with apperr.ErrTargetNotFound when the username does not resolve, apperr.ErrSelfPairing
// when it resolves to the sender, apperr.ErrAlreadyPaired when either side is paired and
// apperr.ErrDuplicateRequest when the same request is already pending.
func (s *Service) SendPartnerRequest(ctx context.Context, senderID primitive.ObjectID, targetUsername string) (*models.Notification, error) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" {
		return nil, apperr.ErrMissingField
	}

	sender, err := s.account(ctx, senderID, apperr.ErrAccountNotFound)
	if err != nil {
		return nil, err
	}
	target, err := s.store.FindAccountByUsername(ctx, targetUsername)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}

	if target.ID == sender.ID {
		return nil, apperr.ErrSelfPairing
	}
	if sender.IsPaired || target.IsPaired {
		return nil, apperr.ErrAlreadyPaired
	}

	exists, err := s.store.NotificationExists(ctx, sender.ID, target.ID, models.NotificationPartnerRequest)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.ErrDuplicateRequest
	}

	message := fmt.Sprintf("%s wants to be your partner", sender.Username)
	n, err := s.inbox.Notify(ctx, target.ID, sender.ID, message, models.PartnerRequest{SenderID: sender.ID, SenderUsername: sender.Username})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"sender_id": sender.ID.Hex(), "target_id": target.ID.Hex()}).Info("partner request sent")
	return n, nil
}

// AcceptPartnerRequest accepts the request held in notificationID.
//
// The notification must be a partner request addressed to accepterID and sent by requesterID.
// Both accounts are linked symmetrically or not at all; a lost race against another pairing
// reports apperr.ErrAlreadyPaired. The notification is consumed on success.
func (s *Service) AcceptPartnerRequest(ctx context.Context, notificationID, accepterID, requesterID primitive.ObjectID) (*Pair, error) {
	n, err := s.inbox.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if _, ok := n.Payload().(models.PartnerRequest); !ok {
		return nil, apperr.ErrNotPartnerRequest
	}
	if n.ReceiverID != accepterID {
		return nil, apperr.ErrForbidden
	}
	if n.SenderID != requesterID {
		return nil, apperr.ErrNotFound
	}

	accepter, err := s.account(ctx, accepterID, apperr.ErrAccountNotFound)
	if err != nil {
		return nil, err
	}
	requester, err := s.account(ctx, requesterID, apperr.ErrNotFound)
	if err != nil {
		return nil, err
	}
	if accepter.IsPaired || requester.IsPaired {
		return nil, apperr.ErrAlreadyPaired
	}

	if err := s.store.PairAccounts(ctx, accepter.ID, requester.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrPreconditionFailed):
			return nil, apperr.ErrAlreadyPaired
		case errors.Is(err, storage.ErrNotFound):
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("pairing accounts: %w", err)
	}

	if err := s.inbox.Remove(ctx, n.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.log.WithError(err).WithField("notification_id", n.ID.Hex()).Warn("failed to consume partner request")
	}

	s.log.WithFields(logrus.Fields{"accepter_id": accepter.ID.Hex(), "requester_id": requester.ID.Hex()}).Info("pairing established")

	pair := &Pair{}
	if pair.Accepter, err = s.store.FindAccountByID(ctx, accepter.ID); err != nil {
		return nil, err
	}
	if pair.Requester, err = s.store.FindAccountByID(ctx, requester.ID); err != nil {
		return nil, err
	}
	return pair, nil
}

// RejectPartnerRequest deletes a pending request without touching either account.
func (s *Service) RejectPartnerRequest(ctx context.Context, notificationID, receiverID primitive.ObjectID) error {
	return s.inbox.Delete(ctx, receiverID, notificationID)
}
