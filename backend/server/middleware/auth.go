// Package middleware provides the HTTP middleware of the gateway.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jghoshh/duet/backend/server/respond"
	"github.com/jghoshh/duet/lib/apperr"
	"github.com/sirupsen/logrus"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenParser verifies a bearer token and returns the account id it was issued for.
type TokenParser interface {
	ParseAuthToken(token string) (string, error)
}

// WithUserID returns a copy of ctx carrying the authenticated account id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated account id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Auth rejects requests without a valid bearer token.
//
// A missing token is answered with 401, an invalid or expired one with 403. On success the
// account id is stored in the request context.
func Auth(parser TokenParser, log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				respond.Error(w, apperr.ErrMissingToken)
				return
			}

			userID, err := parser.ParseAuthToken(token)
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
				respond.Error(w, apperr.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireSelf rejects requests whose {userId} path variable is not the authenticated account.
func RequireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := mux.Vars(r)["userId"]; ok && id != UserID(r.Context()) {
			respond.Error(w, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
