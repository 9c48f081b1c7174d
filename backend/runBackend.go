package backend

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jghoshh/duet/backend/config"
	"github.com/jghoshh/duet/backend/queue"
	"github.com/jghoshh/duet/backend/server"
	"github.com/jghoshh/duet/backend/server/accounts"
	"github.com/jghoshh/duet/backend/server/auth"
	"github.com/jghoshh/duet/backend/server/challenges"
	"github.com/jghoshh/duet/backend/server/chat"
	"github.com/jghoshh/duet/backend/server/notifications/email"
	"github.com/jghoshh/duet/backend/server/notifications/inbox"
	"github.com/jghoshh/duet/backend/server/pairing"
	"github.com/jghoshh/duet/backend/server/rewards"
	cache "github.com/jghoshh/duet/backend/storage/cache"
	storage "github.com/jghoshh/duet/backend/storage/persistent"
	"github.com/jghoshh/duet/lib/logger"
	"github.com/sirupsen/logrus"
)

// RunBackend is the main function that sets up and runs the backend server.
// It blocks until SIGINT or SIGTERM, then shuts everything down in reverse order.
func RunBackend() {
	cfg, loaded := config.Load("backend/.env")
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if !loaded {
		log.Warn("backend/.env not found, using the process environment")
	}
	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY is not set, using the development signing key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistent storage
	store := openStorage(cfg, log)
	defer func() {
		if err := store.Disconnect(); err != nil {
			log.WithError(err).Error("error disconnecting storage")
		}
	}()

	// Email delivery
	emails, shutdownEmails := openEmailQueue(ctx, cfg, log)
	defer shutdownEmails()

	// Core services
	notes := inbox.NewService(store, log)
	authService := auth.NewService(store, emails, cfg.SigningKey, cfg.TokenTTL, log)
	accountService := accounts.NewService(store, log)

	srv := server.New(server.Services{
		Auth:       authService,
		Accounts:   accountService,
		Pairing:    pairing.NewService(store, notes, log),
		Challenges: challenges.NewService(store, notes, log),
		Rewards:    rewards.NewService(store, notes, log),
		Inbox:      notes,
		Emails:     emails,
		Hub:        chat.NewHub(authService, accountService, log),
	}, server.Options{
		ClientURL:       cfg.ClientURL,
		ContactReceiver: cfg.ContactReceiver,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	}, log)
	srv.Limiter().StartCleanup(10*time.Minute, ctx.Done())

	if err := srv.Start(ctx, cfg.ServerURL); err != nil {
		log.WithError(err).Error("server stopped")
		return
	}
	log.Info("server stopped")
}

// openStorage connects to MongoDB, or falls back to the in-memory store when no URI is configured.
func openStorage(cfg *config.Config, log *logrus.Logger) storage.StorageInterface {
	if cfg.MongoURI == "" {
		log.Warn("MONGODB_URI is not set, data is kept in memory only")
		return storage.NewMemoryStorage()
	}
	store, err := storage.NewStorage(cfg.DBName, cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("error initializing storage")
	}
	log.WithField("db", cfg.DBName).Info("connected to MongoDB")
	return store
}

// openEmailQueue builds the RabbitMQ email queue with its Redis delivery cache and SMTP sender,
// and starts the consumers. Without a broker or cache, emails are logged and dropped.
// The returned function stops the consumers and closes every connection.
func openEmailQueue(ctx context.Context, cfg *config.Config, log *logrus.Logger) (queue.EmailPublisher, func()) {
	discard := queue.DiscardPublisher{Log: log}
	if cfg.RabbitMQURL == "" {
		log.Warn("RABBITMQ_URL is not set, emails will not be sent")
		return discard, func() {}
	}

	emailCache, err := cache.NewCache(cfg.RedisURL, cache.DefaultTTL)
	if err != nil {
		log.WithError(err).Error("error initializing email cache, emails will not be sent")
		return discard, func() {}
	}

	sender := email.NewSender(cfg.SMTPEmail, cfg.SMTPPassword)
	emailQueue, err := queue.BuildEmailQueue(cfg.RabbitMQURL, cfg.NumEmailProducers, cfg.NumEmailConsumers, emailCache, sender, log)
	if err != nil {
		_ = emailCache.Disconnect()
		log.WithError(err).Error("error building email queue, emails will not be sent")
		return discard, func() {}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	wg := emailQueue.StartConsumers(consumerCtx)

	var once sync.Once
	return emailQueue, func() {
		once.Do(func() {
			cancel()
			if err := emailQueue.Close(); err != nil {
				log.WithError(err).Error("error closing email queue")
			}
			wg.Wait()
			if err := emailCache.Disconnect(); err != nil {
				log.WithError(err).Error("error disconnecting email cache")
			}
		})
	}
}
