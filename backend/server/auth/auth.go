package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/backend/queue"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/jghoshh/duet/lib/utils"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// ConfirmationTTL is how long an emailed confirmation token stays valid.
const ConfirmationTTL = 24 * time.Hour

// Service registers accounts, signs them in and mints the bearer tokens the gateway checks.
type Service struct {
	store      storage.StorageInterface
	emails     queue.EmailPublisher
	signingKey []byte
	tokenTTL   time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
}

// Session is what a successful sign up or sign in returns to the client.
type Session struct {
	Token string          `json:"token"`
	User  *models.Account `json:"user"`
}

// NewService is a function for initializing the authentication system.
//
// It accepts five arguments:
// - store: The persistent storage accounts and confirmations live in.
// - emails: Where confirmation emails are published.
// - signingKey: The key used to sign JWT tokens.
// - tokenTTL: How long an issued token stays valid.
// - log: The logger.
func NewService(store storage.StorageInterface, emails queue.EmailPublisher, signingKey string, tokenTTL time.Duration, log logrus.FieldLogger) *Service {
	return &Service{
		store:      store,
		emails:     emails,
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		log:        log,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateAuthToken is a function to create a signed JWT token for a user.
//
// The token carries the user's id under "id" and an expiration time under "exp".
func (s *Service) CreateAuthToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userID,
		"exp": s.now().Add(s.tokenTTL).Unix(),
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", errors.New("failed to create auth token")
	}
	return signedToken, nil
}

// ParseAuthToken verifies a token and returns the user id it was issued for.
// Any verification failure, including expiry, is reported as apperr.ErrInvalidToken.
func (s *Service) ParseAuthToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, apperr.ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", apperr.ErrInvalidToken
	}
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return "", apperr.ErrInvalidToken
	}
	return id, nil
}

// newConfirmationToken returns a random 6 character base32 token.
func newConfirmationToken() (string, error) {
	tokenBytes := make([]byte, 4)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(tokenBytes)
	return token[:6], nil
}

// SignUp is a function for registering a new user.
//
// It validates the username, email and password, hashes the password and stores an unpaired
// account with zero coins. It then stores a hashed confirmation token and publishes the
// plain token by email. A failure to publish the email does not fail the registration.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*Session, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(strings.ToLower(email))

	if !utils.ValidateUsername(username) {
		return nil, apperr.ErrInvalidUsername
	}
	if !utils.ValidateEmail(email) {
		return nil, apperr.ErrInvalidEmail
	}
	if !utils.ValidatePassword(password) {
		return nil, apperr.ErrInvalidPassword
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account, err := s.store.AddAccount(ctx, &models.Account{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Profile:      models.Profile{Preferences: models.Preferences{ReceiveNotifications: true}},
		CreatedAt:    now,
		LastLogin:    now,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, apperr.ErrDuplicateIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("adding account: %w", err)
	}

	if err := s.issueConfirmation(ctx, account, now); err != nil {
		s.log.WithError(err).WithField("user_id", account.ID.Hex()).Error("failed to issue confirmation")
	}

	s.log.WithField("user_id", account.ID.Hex()).Info("account registered")
	return s.session(account)
}

func (s *Service) issueConfirmation(ctx context.Context, account *models.Account, now time.Time) error {
	token, err := newConfirmationToken()
	if err != nil {
		return err
	}
	hashedToken, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = s.store.AddConfirmation(ctx, &models.Confirmation{
		UserID:            account.ID,
		ConfirmationToken: string(hashedToken),
		ExpiresAt:         now.Add(ConfirmationTTL),
	})
	if err != nil {
		return err
	}

	return s.emails.PublishEmail(&queue.EmailMessage{
		Id:    account.ID.Hex(),
		Kind:  queue.EmailConfirmation,
		To:    account.Email,
		Token: token,
	})
}

// SignIn is a function for authenticating a user by email and password.
//
// An unknown email fails with apperr.ErrAccountNotFound, a wrong password with
// apperr.ErrInvalidCredentials. On success the last login time is recorded.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.ErrMissingField
	}

	account, err := s.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, account.ID, now); err != nil {
		s.log.WithError(err).WithField("user_id", account.ID.Hex()).Warn("failed to record last login")
	}
	account.LastLogin = now

	return s.session(account)
}

func (s *Service) session(account *models.Account) (*Session, error) {
	token, err := s.CreateAuthToken(account.ID.Hex())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: account}, nil
}

// ConfirmEmail is a function that confirms a user's email address.
//
// An expired token fails with apperr.ErrConfirmationExpired and is discarded; a wrong token
// fails with apperr.ErrInvalidConfirmCode and stays usable until it expires.
func (s *Service) ConfirmEmail(ctx context.Context, userID primitive.ObjectID, confirmationToken string) error {
	account, err := s.store.FindAccountByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if account.EmailConfirmed {
		return apperr.ErrAlreadyConfirmed
	}

	confirmation, err := s.store.FindConfirmation(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.ErrInvalidConfirmCode
	}
	if err != nil {
		return err
	}

	if confirmation.ExpiresAt.Before(s.now()) {
		if _, err := s.store.DeleteConfirmation(ctx, confirmation.ID); err != nil {
			s.log.WithError(err).Warn("error removing confirmation record")
		}
		return apperr.ErrConfirmationExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(confirmation.ConfirmationToken), []byte(strings.TrimSpace(confirmationToken))); err != nil {
		return apperr.ErrInvalidConfirmCode
	}

	if err := s.store.SetEmailConfirmed(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.DeleteConfirmation(ctx, confirmation.ID); err != nil {
		s.log.WithError(err).Warn("error removing confirmation record")
	}

	s.log.WithField("user_id", userID.Hex()).Info("email confirmed")
	return nil
}
