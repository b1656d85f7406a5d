package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type Config struct {
	// ----------------------------
	// Email provider
	// ----------------------------
	EmailProvider string `envconfig:"EMAIL_PROVIDER" default:"smtp"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	SESConfigurationSet string        `envconfig:"SES_CONFIGURATION_SET" default:""`
	SESMaxAttempts      int           `envconfig:"SES_MAX_ATTEMPTS" default:"3"`
	SESMaxBackoffDelay  time.Duration `envconfig:"SES_MAX_BACKOFF_DELAY" default:"5s"`

	// ----------------------------
	// Sender addresses
	// ----------------------------
	PlatformMailDomain    string `envconfig:"PLATFORM_MAIL_DOMAIN" default:"mail.membersend.io"`
	CustomSenderLocalPart string `envconfig:"CUSTOM_SENDER_LOCAL_PART" default:"newsletter"`

	// ----------------------------
	// Dispatch workers
	// ----------------------------
	WorkerCount   int           `envconfig:"WORKER_COUNT" default:"5"`
	QueueSize     int           `envconfig:"QUEUE_SIZE" default:"100"`
	SendInterval  time.Duration `envconfig:"SEND_INTERVAL" default:"500ms"`
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`

	// Fail campaigns left in sending by a previous run. Turn off when more
	// than one instance shares the database.
	RecoverAbandoned bool `envconfig:"RECOVER_ABANDONED" default:"true"`

	// ----------------------------
	// Caches
	// ----------------------------
	CacheBackend      string        `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisURL          string        `envconfig:"REDIS_URL" default:""`
	DedupCooldown     time.Duration `envconfig:"DEDUP_COOLDOWN" default:"5s"`
	DedupCapacity     int           `envconfig:"DEDUP_CAPACITY" default:"1000"`
	ProgressRetention time.Duration `envconfig:"PROGRESS_RETENTION" default:"5m"`

	// ----------------------------
	// Quota
	// ----------------------------
	PlansFile string `envconfig:"PLANS_FILE" default:""`

	ImportMaxRows int `envconfig:"IMPORT_MAX_ROWS" default:"10000"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort       string `envconfig:"API_PORT" default:"8080"`
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" default:""`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	cfg.EmailProvider = strings.ToLower(cfg.EmailProvider)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks rules that span more than one setting.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.StoreBackend) {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch strings.ToLower(c.CacheBackend) {
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when CACHE_BACKEND=redis"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}

	switch strings.ToLower(c.EmailProvider) {
	case "smtp", "ses", "log":
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}

	if c.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("QUEUE_SIZE must be at least 1"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	if c.SendInterval < 0 {
		errs = append(errs, errors.New("SEND_INTERVAL must not be negative"))
	}

	return errors.Join(errs...)
}
