// Package config collects the backend settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DevSigningKey is used when JWT_SIGNING_KEY is unset. It must never reach production.
const DevSigningKey = "duet-development-signing-key"

// Config holds runtime settings for the backend.
//
// Fields:
//   - ServerURL: the URL the HTTP server listens on; only its host part is used.
//   - SigningKey / TokenTTL: HMAC secret and lifetime of the bearer tokens.
//   - MongoURI / DBName: document store. An empty MongoURI selects the in-memory store.
//   - RedisURL: cache for delivered email markers.
//   - RabbitMQURL: email broker. Empty disables email delivery.
//   - SMTPEmail / SMTPPassword: the account emails are sent from.
//   - ContactReceiver: where contact inquiries are delivered.
//   - ClientURL: allowed CORS origin, "*" when empty.
//   - LogLevel / LogFormat: logrus level name and "text" or "json".
//   - RateLimitRPS / RateLimitBurst: per client limit on the public endpoints.
//   - NumEmailProducers / NumEmailConsumers: queue fan-out.
type Config struct {
	ServerURL         string
	SigningKey        string
	TokenTTL          time.Duration
	MongoURI          string
	DBName            string
	RedisURL          string
	RabbitMQURL       string
	SMTPEmail         string
	SMTPPassword      string
	ContactReceiver   string
	ClientURL         string
	LogLevel          string
	LogFormat         string
	RateLimitRPS      float64
	RateLimitBurst    int
	NumEmailProducers int
	NumEmailConsumers int
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.SigningKey = ""
	c.TokenTTL = 24 * time.Hour
	c.DBName = "duet"
	c.ClientURL = "*"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.RateLimitRPS = 5
	c.RateLimitBurst = 10
	c.NumEmailProducers = 1
	c.NumEmailConsumers = 2
}

// UsesDevSigningKey reports whether no signing key was configured.
func (c *Config) UsesDevSigningKey() bool {
	return c.SigningKey == "" || c.SigningKey == DevSigningKey
}

// Apply overlays every variable lookup knows about onto c.
// Malformed numbers and durations are ignored and keep the previous value.
func (c *Config) Apply(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("SERVER_URL", &c.ServerURL)
	str("JWT_SIGNING_KEY", &c.SigningKey)
	str("MONGODB_URI", &c.MongoURI)
	str("DB_NAME", &c.DBName)
	str("REDIS_URL", &c.RedisURL)
	str("RABBITMQ_URL", &c.RabbitMQURL)
	str("GOOGLE_EMAIL", &c.SMTPEmail)
	str("GOOGLE_PASS", &c.SMTPPassword)
	str("CONTACT_RECEIVER", &c.ContactReceiver)
	str("CLIENT_URL", &c.ClientURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	integer("RATE_LIMIT_BURST", &c.RateLimitBurst)
	integer("NUM_EMAIL_PRODUCERS", &c.NumEmailProducers)
	integer("NUM_EMAIL_CONSUMERS", &c.NumEmailConsumers)

	if v, ok := lookup("TOKEN_TTL"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.TokenTTL = d
		}
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RateLimitRPS = f
		}
	}

	if c.SigningKey == "" {
		c.SigningKey = DevSigningKey
	}
	if c.ContactReceiver == "" {
		c.ContactReceiver = c.SMTPEmail
	}
}

// Load builds a Config from defaults, then the optional env file, then the process environment.
// A missing env file is not an error; the returned bool reports whether it was read.
func Load(envFile string) (*Config, bool) {
	loaded := godotenv.Load(envFile) == nil

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.Apply(os.LookupEnv)
	return cfg, loaded
}
