// Package server is the HTTP gateway of the backend. It authenticates requests,
// decodes them and hands them to the core services; every HTTP concern lives here.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jghoshh/duet/backend/queue"
	"github.com/jghoshh/duet/backend/server/accounts"
	"github.com/jghoshh/duet/backend/server/auth"
	"github.com/jghoshh/duet/backend/server/challenges"
	"github.com/jghoshh/duet/backend/server/chat"
	"github.com/jghoshh/duet/backend/server/metrics"
	"github.com/jghoshh/duet/backend/server/middleware"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	"github.com/jghoshh/duet/backend/server/pairing"
	"github.com/jghoshh/duet/backend/server/rewards"
	"github.com/sirupsen/logrus"
)

// Services are the core services the gateway routes to.
type Services struct {
	Auth       *auth.Service
	Accounts   *accounts.Service
	Pairing    *pairing.Service
	Challenges *challenges.Service
	Rewards    *rewards.Service
	Inbox      *inbox.Service
	Emails     queue.EmailPublisher
	Hub        *chat.Hub
}

// Options tune the gateway.
type Options struct {
	// ClientURL is the allowed CORS origin. Empty allows any origin.
	ClientURL string
	// ContactReceiver is the address contact inquiries are sent to.
	ContactReceiver string
	RateLimitRPS    float64
	RateLimitBurst  int
}

// Server routes REST and websocket traffic to the services.
type Server struct {
	svc     Services
	opts    Options
	log     *logrus.Logger
	limiter *middleware.RateLimiter
	auth    mux.MiddlewareFunc
	handler http.Handler
}

// New builds the gateway and its routing table.
func New(svc Services, opts Options, log *logrus.Logger) *Server {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}

	s := &Server{
		svc:     svc,
		opts:    opts,
		log:     log,
		limiter: middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log),
		auth:    middleware.Auth(svc.Auth, log),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Limiter returns the rate limiter guarding the public endpoints.
func (s *Server) Limiter() *middleware.RateLimiter {
	return s.limiter
}

// authed guards h with a bearer token and, when the route has a {userId}, checks it is the caller.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.auth(middleware.RequireSelf(h))
}

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return s.limiter.Handler(h)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Trace, middleware.Recovery(s.log), metrics.Instrument)

	// Operations
	r.HandleFunc("/test", s.handleTest).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Accounts and sessions
	r.Handle("/register", s.limited(s.handleRegister)).Methods(http.MethodPost)
	r.Handle("/login", s.limited(s.handleLogin)).Methods(http.MethodPost)
	r.Handle("/send", s.limited(s.handleContact)).Methods(http.MethodPost)
	r.Handle("/confirm", s.authed(s.handleConfirm)).Methods(http.MethodPost)

	// Dashboard
	d := "/dashboard/{userId}"
	r.Handle(d, s.authed(s.handleDashboard)).Methods(http.MethodGet)
	r.Handle(d+"/profile", s.authed(s.handleGetProfile)).Methods(http.MethodGet)
	r.Handle(d+"/profile", s.authed(s.handleUpdateProfile)).Methods(http.MethodPut)
	r.Handle(d+"/partner", s.authed(s.handlePartner)).Methods(http.MethodGet)

	// Pairing and notifications
	r.Handle(d+"/partner/request", s.authed(s.handlePartnerRequest)).Methods(http.MethodPost)
	r.Handle(d+"/partner/accept", s.authed(s.handlePartnerAccept)).Methods(http.MethodPost)
	r.Handle(d+"/notifications", s.authed(s.handleNotifications)).Methods(http.MethodGet)
	r.Handle(d+"/notifications/count", s.authed(s.handleNotificationCount)).Methods(http.MethodGet)
	r.Handle("/notifications/{notificationId}", s.authed(s.handleDeleteNotification)).Methods(http.MethodDelete)

	// Challenges
	r.Handle(d+"/challenges/create", s.authed(s.handleCreateChallenge)).Methods(http.MethodPost)
	r.Handle(d+"/challenges/completed", s.authed(s.handleCompleteChallenge)).Methods(http.MethodPost)
	r.Handle(d+"/challenges/get", s.authed(s.handleListChallenges)).Methods(http.MethodGet)
	r.Handle("/challenges/{challengeId}", s.authed(s.handleDeleteChallenge)).Methods(http.MethodDelete)

	// Rewards
	r.Handle(d+"/rewards/create", s.authed(s.handleCreateReward)).Methods(http.MethodPost)
	r.Handle(d+"/rewards/get-my-rewards", s.authed(s.handleOwnedRewards)).Methods(http.MethodGet)
	r.Handle(d+"/rewards/get", s.authed(s.handleCreatedRewards)).Methods(http.MethodGet)
	r.Handle(d+"/rewards/{rewardId}/redeem", s.authed(s.handleRedeemReward)).Methods(http.MethodPut)
	r.Handle("/rewards/{rewardId}", s.authed(s.handleDeleteReward)).Methods(http.MethodDelete)

	// Chat
	if s.svc.Hub != nil {
		r.Handle("/ws", s.svc.Hub).Methods(http.MethodGet)
	}

	origin := s.opts.ClientURL
	if origin == "" {
		origin = "*"
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{origin}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", middleware.TraceHeader}),
		handlers.ExposedHeaders([]string{middleware.TraceHeader}),
	)

	return handlers.LoggingHandler(s.log.WriterLevel(logrus.InfoLevel), cors(r))
}

// Start serves on the host of serverURL until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parsing server url: %w", err)
	}

	srv := &http.Server{
		Handler:      s.handler,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", u.Host).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	if s.svc.Hub != nil {
		s.svc.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
