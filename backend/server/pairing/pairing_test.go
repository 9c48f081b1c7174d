package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/jghoshh/duet/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func setup(t *testing.T) (*Service, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	log := logger.Discard()
	return NewService(store, inbox.NewService(store, log), log), store
}

func addAccount(t *testing.T, store storage.StorageInterface, username string) *models.Account {
	t.Helper()
	account, err := store.AddAccount(context.Background(), &models.Account{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Email:     username + "@example.com",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return account
}

func TestSendPartnerRequest(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	n, err := svc.SendPartnerRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, n.ReceiverID)
	assert.Equal(t, models.PartnerRequest{SenderID: alice.ID, SenderUsername: "alice"}, n.Payload())

	_, err = svc.SendPartnerRequest(ctx, alice.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrDuplicateRequest)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.SendPartnerRequest(ctx, alice.ID, "nobody")
	assert.ErrorIs(t, err, apperr.ErrTargetNotFound)

	_, err = svc.SendPartnerRequest(ctx, alice.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrSelfPairing)

	_, err = svc.SendPartnerRequest(ctx, alice.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrMissingField)
}

func TestAcceptPartnerRequestIsSymmetric(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	n, err := svc.SendPartnerRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)

	pair, err := svc.AcceptPartnerRequest(ctx, n.ID, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, pair.Accepter.PartnerOf(alice.ID))
	assert.True(t, pair.Requester.PartnerOf(bob.ID))

	for _, id := range []primitive.ObjectID{alice.ID, bob.ID} {
		account, err := store.FindAccountByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, account.IsPaired)
	}

	_, err = store.FindNotification(ctx, n.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	carol := addAccount(t, store, "carol")
	_, err = svc.SendPartnerRequest(ctx, carol.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)
}

func TestAcceptPartnerRequestChecks(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")
	carol := addAccount(t, store, "carol")

	n, err := svc.SendPartnerRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)

	_, err = svc.AcceptPartnerRequest(ctx, primitive.NewObjectID(), bob.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.AcceptPartnerRequest(ctx, n.ID, carol.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.AcceptPartnerRequest(ctx, n.ID, bob.ID, carol.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	other, err := store.AddNotification(ctx, models.NewNotification(bob.ID, alice.ID, "hi", models.Other{}, time.Now()))
	require.NoError(t, err)
	_, err = svc.AcceptPartnerRequest(ctx, other.ID, bob.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotPartnerRequest)

	// carol pairs with alice first, so bob's pending request is stale.
	m, err := svc.SendPartnerRequest(ctx, carol.ID, "alice")
	require.NoError(t, err)
	_, err = svc.AcceptPartnerRequest(ctx, m.ID, alice.ID, carol.ID)
	require.NoError(t, err)

	_, err = svc.AcceptPartnerRequest(ctx, n.ID, bob.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)

	bob, err = store.FindAccountByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, bob.IsPaired)
	assert.Nil(t, bob.PartnerID)
}

func TestConcurrentAcceptsPairOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	target := addAccount(t, store, "target")

	var requests []*models.Notification
	var requesters []*models.Account
	for _, name := range []string{"r1", "r2", "r3", "r4"} {
		requester := addAccount(t, store, name)
		n, err := svc.SendPartnerRequest(ctx, requester.ID, "target")
		require.NoError(t, err)
		requests = append(requests, n)
		requesters = append(requesters, requester)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.AcceptPartnerRequest(ctx, requests[i].ID, target.ID, requesters[i].ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	target, err := store.FindAccountByID(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, target.PartnerID)
	partner, err := store.FindAccountByID(ctx, *target.PartnerID)
	require.NoError(t, err)
	assert.True(t, partner.PartnerOf(target.ID))
}

func TestRejectPartnerRequest(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	alice := addAccount(t, store, "alice")
	bob := addAccount(t, store, "bob")

	n, err := svc.SendPartnerRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RejectPartnerRequest(ctx, n.ID, alice.ID), apperr.ErrForbidden)
	require.NoError(t, svc.RejectPartnerRequest(ctx, n.ID, bob.ID))
	assert.ErrorIs(t, svc.RejectPartnerRequest(ctx, n.ID, bob.ID), apperr.ErrNotFound)

	_, err = svc.SendPartnerRequest(ctx, alice.ID, "bob")
	assert.NoError(t, err)
}
