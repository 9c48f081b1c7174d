package client

import (
	"errors"
	"net/http"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/lib/utils"
	"github.com/zalando/go-keyring"
)

// KeyringService is the name of the service in the system keyring where the JWT token is stored.
const KeyringService = "Duet"

// DefaultKeyringKey is the keyring entry used when none is configured.
const DefaultKeyringKey = "auth_token"

var (
	ErrNotSignedIn     = errors.New("no user is currently signed in")
	ErrAlreadySignedIn = errors.New("a user is already signed in")
	ErrSessionExpired  = errors.New("session expired, please sign in again")
)

// Session is the answer to a sign up or sign in.
type Session struct {
	Token string         `json:"token"`
	User  models.Account `json:"user"`
}

// Keyring keeps the signed in user's token in the system keyring.
type Keyring struct {
	key string
	now func() time.Time
}

// NewKeyring returns a keyring session stored under key.
func NewKeyring(key string) *Keyring {
	if key == "" {
		key = DefaultKeyringKey
	}
	return &Keyring{key: key, now: time.Now}
}

// Save stores token, replacing any previous one.
func (k *Keyring) Save(token string) error {
	if err := keyring.Set(KeyringService, k.key, token); err != nil {
		return errors.New("failed to store token in keyring: " + err.Error())
	}
	return nil
}

// Clear removes the stored token. Clearing an empty keyring is not an error.
func (k *Keyring) Clear() error {
	err := keyring.Delete(KeyringService, k.key)
	if err != nil && err != keyring.ErrNotFound {
		return errors.New("failed to delete token from keyring: " + err.Error())
	}
	return nil
}

// Current returns the stored token and the account id it was issued for. Both are
// empty when nobody is signed in. An expired token is removed from the keyring.
//
// The token is not verified here; the backend does that on every call.
func (k *Keyring) Current() (string, string, error) {
	tokenStr, err := keyring.Get(KeyringService, k.key)
	if err == keyring.ErrNotFound {
		return "", "", nil
	}
	if err != nil {
		return "", "", errors.New("failed to access keyring: " + err.Error())
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		_ = k.Clear()
		return "", "", nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		_ = k.Clear()
		return "", "", nil
	}
	if !claims.VerifyExpiresAt(k.now().Unix(), true) {
		_ = k.Clear()
		return "", "", nil
	}
	userID, _ := claims["id"].(string)
	if userID == "" {
		_ = k.Clear()
		return "", "", nil
	}
	return tokenStr, userID, nil
}

// IsUserAuthenticated reports whether a usable token is stored.
func (k *Keyring) IsUserAuthenticated() (bool, error) {
	token, _, err := k.Current()
	return token != "", err
}

// SignUp registers a new account and signs it in.
func (c *Client) SignUp(username, email, password string) (*Session, error) {
	signedIn, err := c.session.IsUserAuthenticated()
	if err != nil {
		return nil, err
	}
	if signedIn {
		return nil, ErrAlreadySignedIn
	}

	if !utils.ValidateUsername(username) {
		return nil, errors.New("username must be at least 2 characters")
	}
	if !utils.ValidateEmail(email) {
		return nil, errors.New("invalid email format")
	}
	if !utils.ValidatePassword(password) {
		return nil, errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	var session Session
	err = c.do(http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return nil, err
	}
	if err := c.session.Save(session.Token); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignIn signs in with email and password and stores the issued token.
func (c *Client) SignIn(email, password string) (*Session, error) {
	signedIn, err := c.session.IsUserAuthenticated()
	if err != nil {
		return nil, err
	}
	if signedIn {
		return nil, ErrAlreadySignedIn
	}

	var session Session
	err = c.do(http.MethodPost, "/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return nil, err
	}
	if err := c.session.Save(session.Token); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignOut forgets the stored token. Tokens are stateless, so nothing is sent to the backend.
func (c *Client) SignOut() error {
	signedIn, err := c.session.IsUserAuthenticated()
	if err != nil {
		return err
	}
	if !signedIn {
		return ErrNotSignedIn
	}
	return c.session.Clear()
}

// ConfirmEmail confirms the signed in user's email with the emailed token.
func (c *Client) ConfirmEmail(confirmationToken string) error {
	return c.authed(func(token, _ string) error {
		return c.do(http.MethodPost, "/confirm", token, map[string]string{"token": confirmationToken}, nil)
	})
}

// Profile returns the signed in user's account.
func (c *Client) Profile() (*models.Account, error) {
	var account models.Account
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodGet, "/dashboard/"+userID+"/profile", token, nil, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateProfile replaces the signed in user's profile attributes.
func (c *Client) UpdateProfile(profile models.Profile) (*models.Account, error) {
	var account models.Account
	err := c.authed(func(token, userID string) error {
		return c.do(http.MethodPut, "/dashboard/"+userID+"/profile", token, profile, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Contact sends an inquiry to the Duet team. It does not need a session.
func (c *Client) Contact(email, message, category string) error {
	return c.do(http.MethodPost, "/send", "", map[string]string{
		"email":    email,
		"message":  message,
		"category": category,
	}, nil)
}
