package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/duet/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
	challengesCollection    = "challenges"
	rewardsCollection       = "rewards"
	confirmationsCollection = "confirmations"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on various collections in the MongoDB database.
//
// The multi-document operations run inside a transaction, so the server must be a replica set
// (a single node replica set is enough).
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("error pinging MongoDB: %w", err)
	}

	m.client = client
	m.dbName = dbName

	indexes := map[string][]mongo.IndexModel{
		// Every account has a unique email and a unique username.
		usersCollection: {
			{Keys: bson.M{"email": 1}, Options: options.Index().SetUnique(true)},
			{Keys: bson.M{"username": 1}, Options: options.Index().SetUnique(true)},
		},
		// Inboxes are read newest first.
		notificationsCollection: {
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "type", Value: 1}}},
		},
		challengesCollection: {
			{Keys: bson.M{"owner_id": 1}},
			{Keys: bson.M{"assigner_id": 1}},
		},
		rewardsCollection: {
			{Keys: bson.M{"owner_id": 1}},
			{Keys: bson.M{"creator_id": 1}},
		},
		confirmationsCollection: {
			{Keys: bson.M{"user_id": 1}},
		},
	}

	for name, specs := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("error creating indexes on %s: %w", name, err)
		}
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %w", err)
	}
	return nil
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// withTransaction runs fn inside a multi-document transaction.
// Any error returned by fn aborts the transaction.
func (m *MongoStorage) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// isDuplicateKey reports whether err is a unique index violation.
func isDuplicateKey(err error) bool {
	var writeException mongo.WriteException
	if errors.As(err, &writeException) {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}

// findOne decodes the first document of the collection matching filter into out.
func (m *MongoStorage) findOne(ctx context.Context, name string, filter interface{}, out interface{}) error {
	err := m.collection(name).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (m *MongoStorage) deleteByID(ctx context.Context, name string, id primitive.ObjectID) (*DeleteResult, error) {
	result, err := m.collection(name).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if result.DeletedCount == 0 {
		return nil, ErrNotFound
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// AddAccount adds a new account document to the 'users' collection.
// Returns ErrDuplicate if the username or email is already taken.
func (m *MongoStorage) AddAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID.IsZero() {
		account.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(usersCollection).InsertOne(ctx, account); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return account, nil
}

// FindAccountByID finds an account by its id.
func (m *MongoStorage) FindAccountByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	account := &models.Account{}
	if err := m.findOne(ctx, usersCollection, bson.M{"_id": id}, account); err != nil {
		return nil, err
	}
	return account, nil
}

// FindAccountByUsername finds an account by its username.
func (m *MongoStorage) FindAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := &models.Account{}
	if err := m.findOne(ctx, usersCollection, bson.M{"username": username}, account); err != nil {
		return nil, err
	}
	return account, nil
}

// FindAccountByEmail finds an account by its email.
func (m *MongoStorage) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	account := &models.Account{}
	if err := m.findOne(ctx, usersCollection, bson.M{"email": email}, account); err != nil {
		return nil, err
	}
	return account, nil
}

// updateAccount applies update to the account matching filter and returns the new document.
func (m *MongoStorage) updateAccount(ctx context.Context, filter, update interface{}) (*models.Account, error) {
	account := &models.Account{}
	err := m.collection(usersCollection).FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateProfile replaces the profile sub-document of an account.
func (m *MongoStorage) UpdateProfile(ctx context.Context, id primitive.ObjectID, profile models.Profile) (*models.Account, error) {
	return m.updateAccount(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"profile": profile}})
}

// SetEmailConfirmed marks the email of an account as confirmed.
func (m *MongoStorage) SetEmailConfirmed(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.updateAccount(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"email_confirmed": true}})
	return err
}

// TouchLastLogin sets the last login time of an account.
func (m *MongoStorage) TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := m.updateAccount(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_login": at}})
	return err
}

// AdjustCoins increments the balance of an account by delta.
// Debits are conditional on the current balance, so the balance never goes negative.
func (m *MongoStorage) AdjustCoins(ctx context.Context, id primitive.ObjectID, delta int64) (*models.Account, error) {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["coins"] = bson.M{"$gte": -delta}
	}
	account, err := m.updateAccount(ctx, filter, bson.M{"$inc": bson.M{"coins": delta}})
	if errors.Is(err, ErrNotFound) && delta < 0 {
		if _, findErr := m.FindAccountByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, ErrInsufficientBalance
	}
	return account, err
}

// SetPairing sets the partner of a single account, or clears it when partner is nil.
func (m *MongoStorage) SetPairing(ctx context.Context, id primitive.ObjectID, partner *primitive.ObjectID) (*models.Account, error) {
	update := bson.M{"$set": bson.M{"partner_id": partner, "is_paired": partner != nil}}
	return m.updateAccount(ctx, bson.M{"_id": id}, update)
}

// PairAccounts links two unpaired accounts to each other inside one transaction.
func (m *MongoStorage) PairAccounts(ctx context.Context, a, b primitive.ObjectID) error {
	return m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		for _, pair := range [][2]primitive.ObjectID{{a, b}, {b, a}} {
			self, partner := pair[0], pair[1]
			filter := bson.M{"_id": self, "is_paired": false}
			update := bson.M{"$set": bson.M{"partner_id": partner, "is_paired": true}}
			result, err := m.collection(usersCollection).UpdateOne(sc, filter, update)
			if err != nil {
				return err
			}
			if result.MatchedCount == 0 {
				if _, err := m.FindAccountByID(sc, self); err != nil {
					return err
				}
				return ErrPreconditionFailed
			}
		}
		return nil
	})
}

// AddConfirmation adds a new confirmation document to the 'confirmations' collection.
func (m *MongoStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	if confirmation.ID.IsZero() {
		confirmation.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(confirmationsCollection).InsertOne(ctx, confirmation); err != nil {
		return nil, err
	}
	return confirmation, nil
}

// FindConfirmation finds the confirmation issued to a user.
func (m *MongoStorage) FindConfirmation(ctx context.Context, userID primitive.ObjectID) (*models.Confirmation, error) {
	confirmation := &models.Confirmation{}
	if err := m.findOne(ctx, confirmationsCollection, bson.M{"user_id": userID}, confirmation); err != nil {
		return nil, err
	}
	return confirmation, nil
}

// DeleteConfirmation deletes a confirmation by id.
func (m *MongoStorage) DeleteConfirmation(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	return m.deleteByID(ctx, confirmationsCollection, id)
}

// AddNotification adds a new notification document to the 'notifications' collection.
func (m *MongoStorage) AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error) {
	if notification.ID.IsZero() {
		notification.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(notificationsCollection).InsertOne(ctx, notification); err != nil {
		return nil, err
	}
	return notification, nil
}

// FindNotification finds a notification by id.
func (m *MongoStorage) FindNotification(ctx context.Context, id primitive.ObjectID) (*models.Notification, error) {
	notification := &models.Notification{}
	if err := m.findOne(ctx, notificationsCollection, bson.M{"_id": id}, notification); err != nil {
		return nil, err
	}
	return notification, nil
}

// FindNotifications lists the notifications addressed to receiverID, newest first.
func (m *MongoStorage) FindNotifications(ctx context.Context, receiverID primitive.ObjectID) ([]models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection(notificationsCollection).Find(ctx, bson.M{"receiver_id": receiverID}, opts)
	if err != nil {
		return nil, err
	}
	notifications := []models.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// NotificationExists reports whether sender already has a notification of type typ in receiver's inbox.
func (m *MongoStorage) NotificationExists(ctx context.Context, senderID, receiverID primitive.ObjectID, typ models.NotificationType) (bool, error) {
	filter := bson.M{"sender_id": senderID, "receiver_id": receiverID, "type": typ}
	count, err := m.collection(notificationsCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteNotification deletes a notification by id.
func (m *MongoStorage) DeleteNotification(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	return m.deleteByID(ctx, notificationsCollection, id)
}

// NotificationCount returns the number of notifications addressed to receiverID.
func (m *MongoStorage) NotificationCount(ctx context.Context, receiverID primitive.ObjectID) (int64, error) {
	return m.collection(notificationsCollection).CountDocuments(ctx, bson.M{"receiver_id": receiverID})
}

// AddChallenge adds a new challenge document to the 'challenges' collection.
func (m *MongoStorage) AddChallenge(ctx context.Context, challenge *models.Challenge) (*models.Challenge, error) {
	if challenge.ID.IsZero() {
		challenge.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(challengesCollection).InsertOne(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// FindChallenge finds a challenge by id.
func (m *MongoStorage) FindChallenge(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error) {
	challenge := &models.Challenge{}
	if err := m.findOne(ctx, challengesCollection, bson.M{"_id": id}, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// FindChallengesFor lists the challenges accountID owns or assigned, soonest deadline first.
func (m *MongoStorage) FindChallengesFor(ctx context.Context, accountID primitive.ObjectID) ([]models.Challenge, error) {
	filter := bson.M{"$or": bson.A{bson.M{"owner_id": accountID}, bson.M{"assigner_id": accountID}}}
	opts := options.Find().SetSort(bson.D{{Key: "deadline", Value: 1}})
	cursor, err := m.collection(challengesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	challenges := []models.Challenge{}
	if err := cursor.All(ctx, &challenges); err != nil {
		return nil, err
	}
	return challenges, nil
}

// CompleteChallenge flips a pending challenge to completed and credits the owner with its coins.
// Both writes happen in one transaction.
func (m *MongoStorage) CompleteChallenge(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Challenge, *models.Account, error) {
	var challenge models.Challenge
	var owner *models.Account

	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		filter := bson.M{"_id": id, "status": models.ChallengePending, "deadline": bson.M{"$gte": now}}
		update := bson.M{"$set": bson.M{"status": models.ChallengeCompleted, "completed_at": now}}
		err := m.collection(challengesCollection).FindOneAndUpdate(sc, filter, update, afterUpdate()).Decode(&challenge)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, err := m.FindChallenge(sc, id); err != nil {
				return err
			}
			return ErrPreconditionFailed
		}
		if err != nil {
			return err
		}

		owner, err = m.updateAccount(sc, bson.M{"_id": challenge.OwnerID}, bson.M{"$inc": bson.M{"coins": challenge.Coins}})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &challenge, owner, nil
}

// DeleteChallenge deletes a challenge by id.
func (m *MongoStorage) DeleteChallenge(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	return m.deleteByID(ctx, challengesCollection, id)
}

// AddReward adds a new reward document to the 'rewards' collection.
func (m *MongoStorage) AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error) {
	if reward.ID.IsZero() {
		reward.ID = primitive.NewObjectID()
	}
	if _, err := m.collection(rewardsCollection).InsertOne(ctx, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// FindReward finds a reward by id.
func (m *MongoStorage) FindReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	reward := &models.Reward{}
	if err := m.findOne(ctx, rewardsCollection, bson.M{"_id": id}, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

func (m *MongoStorage) findRewards(ctx context.Context, filter bson.M) ([]models.Reward, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection(rewardsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	rewards := []models.Reward{}
	if err := cursor.All(ctx, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// FindRewardsByOwner lists the rewards ownerID may redeem, newest first.
func (m *MongoStorage) FindRewardsByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]models.Reward, error) {
	return m.findRewards(ctx, bson.M{"owner_id": ownerID})
}

// FindRewardsByCreator lists the rewards creatorID created, newest first.
func (m *MongoStorage) FindRewardsByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Reward, error) {
	return m.findRewards(ctx, bson.M{"creator_id": creatorID})
}

// RedeemReward debits the owner by the reward's price and marks the reward redeemed, in one transaction.
// The debit is conditional on the owner's balance and the flag on the reward still being available.
func (m *MongoStorage) RedeemReward(ctx context.Context, id primitive.ObjectID, now time.Time) (*models.Reward, *models.Account, error) {
	var reward models.Reward
	var owner *models.Account

	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		filter := bson.M{"_id": id, "redeemed": false, "deleted": false}
		update := bson.M{"$set": bson.M{"redeemed": true, "redeemed_at": now}}
		err := m.collection(rewardsCollection).FindOneAndUpdate(sc, filter, update, afterUpdate()).Decode(&reward)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, err := m.FindReward(sc, id); err != nil {
				return err
			}
			return ErrPreconditionFailed
		}
		if err != nil {
			return err
		}

		owner, err = m.AdjustCoins(sc, reward.OwnerID, -reward.CoinsRequired)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &reward, owner, nil
}

// ExpireReward flags a reward as deleted. The document itself is kept.
func (m *MongoStorage) ExpireReward(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	reward := &models.Reward{}
	err := m.collection(rewardsCollection).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"deleted": true}}, afterUpdate()).Decode(reward)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reward, nil
}

// DeleteReward deletes a reward by id.
func (m *MongoStorage) DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	return m.deleteByID(ctx, rewardsCollection, id)
}
