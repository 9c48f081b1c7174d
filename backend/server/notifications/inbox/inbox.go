// Package inbox manages the per account notification list.
// Notifications are never swept; they stay until the receiver deletes them or a
// handshake consumes them.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/duet/backend/models"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service creates, lists and removes notifications.
type Service struct {
	store storage.StorageInterface
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService returns an inbox backed by store.
func NewService(store storage.StorageInterface, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Notify puts a notification carrying payload into receiver's inbox.
func (s *Service) Notify(ctx context.Context, receiver, sender primitive.ObjectID, message string, payload models.NotificationPayload) (*models.Notification, error) {
	n := models.NewNotification(receiver, sender, message, payload, s.now().UTC())
	created, err := s.store.AddNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("adding notification: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"notification_id": created.ID.Hex(),
		"receiver_id":     receiver.Hex(),
		"type":            created.Type,
	}).Debug("notification created")
	return created, nil
}

// NotifyQuietly is Notify for side effects of an operation that already succeeded.
// A failure is logged and otherwise ignored.
func (s *Service) NotifyQuietly(ctx context.Context, receiver, sender primitive.ObjectID, message string, payload models.NotificationPayload) {
	if _, err := s.Notify(ctx, receiver, sender, message, payload); err != nil {
		s.log.WithError(err).WithField("receiver_id", receiver.Hex()).Warn("failed to deliver notification")
	}
}

// List returns the notifications of receiver, newest first.
func (s *Service) List(ctx context.Context, receiver primitive.ObjectID) ([]models.Notification, error) {
	return s.store.FindNotifications(ctx, receiver)
}

// Count returns the number of notifications in receiver's inbox.
func (s *Service) Count(ctx context.Context, receiver primitive.ObjectID) (int64, error) {
	return s.store.NotificationCount(ctx, receiver)
}

// Get returns a notification by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	n, err := s.store.FindNotification(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return n, err
}

// Delete removes a notification without touching anything else.
// Only the receiver may delete it.
func (s *Service) Delete(ctx context.Context, requester, id primitive.ObjectID) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.ReceiverID != requester {
		return apperr.ErrForbidden
	}
	return s.Remove(ctx, id)
}

// Remove deletes a notification by id with no ownership check.
func (s *Service) Remove(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.store.DeleteNotification(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}
