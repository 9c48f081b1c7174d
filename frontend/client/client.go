// Package client talks to the Duet backend over REST and websockets on behalf of the CLI.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non 2xx answer from the backend.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client is a REST client for one backend. The session token is read from the
// system keyring on every call, so several clients share one signed in user.
type Client struct {
	serverURL string
	http      *http.Client
	session   *Keyring
}

// New returns a client for the backend listening at serverURL.
func New(serverURL string, session *Keyring) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		session:   session,
	}
}

// ServerURL returns the backend base URL.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Session returns the keyring the client keeps its token in.
func (c *Client) Session() *Keyring {
	return c.session
}

// do sends a JSON request and decodes a JSON answer into out when out is not nil.
// Pass an empty token for public endpoints.
func (c *Client) do(method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reader = bytes.NewBuffer(reqBody)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
			Kind    string `json:"kind"`
		}
		if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Message != "" {
			apiErr.Message, apiErr.Kind = errBody.Message, errBody.Kind
		} else {
			apiErr.Message = strings.TrimSpace(http.StatusText(resp.StatusCode))
		}
		return apiErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decoding response: %v", err)
	}
	return nil
}

// authed runs fn with the signed in user's token and id.
func (c *Client) authed(fn func(token, userID string) error) error {
	token, userID, err := c.session.Current()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotSignedIn
	}

	err = fn(token, userID)
	if apiErr, ok := err.(*APIError); ok && rejectedToken(apiErr) {
		_ = c.session.Clear()
		return ErrSessionExpired
	}
	return err
}

// rejectedToken reports whether the gateway refused the bearer token itself.
func rejectedToken(e *APIError) bool {
	return e.Status == http.StatusUnauthorized || (e.Status == http.StatusForbidden && e.Message == "invalid token")
}

// Ping checks that the backend answers its health probe.
func (c *Client) Ping() error {
	return c.do(http.MethodGet, "/test", "", nil, nil)
}
