package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// ProviderMode selects which resource provider implementation runs. The
// mode is fixed at startup: real mode must fail loudly when a backend is
// unavailable instead of silently substituting simulated resources.
const (
	ProviderModeReal      = "real"
	ProviderModeSimulated = "simulated"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	RabbitMQURL    string `env:"RABBITMQ_URL,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`

	ProviderMode      string `env:"PROVIDER_MODE,default=real"`
	BackendBaseURL    string `env:"BACKEND_BASE_URL"`
	BackendAPIKey     string `env:"BACKEND_API_KEY"`
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
	MaxInflightUnits  int    `env:"MAX_INFLIGHT_UNITS,default=3"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	BlockingPoolSize  int    `env:"BLOCKING_POOL_SIZE,default=8"`
	NotifyIntervalSec int    `env:"NOTIFY_INTERVAL_SEC,default=3"`
	NotifyMinDelta    int    `env:"NOTIFY_MIN_DELTA,default=5"`
	VerifyTimeoutSec  int    `env:"VERIFY_TIMEOUT_SEC,default=60"`
	CleanupGraceSec   int    `env:"CLEANUP_GRACE_SEC,default=600"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ProviderMode = strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	switch cfg.ProviderMode {
	case ProviderModeReal:
		if strings.TrimSpace(cfg.BackendBaseURL) == "" {
			return nil, fmt.Errorf("BACKEND_BASE_URL is required in real provider mode")
		}
	case ProviderModeSimulated:
	default:
		return nil, fmt.Errorf("invalid PROVIDER_MODE %q (want real or simulated)", cfg.ProviderMode)
	}

	if cfg.MaxInflightUnits < 1 {
		return nil, fmt.Errorf("MAX_INFLIGHT_UNITS must be at least 1")
	}

	return &cfg, nil
}

func (c *Config) NotifyInterval() time.Duration {
	return time.Duration(c.NotifyIntervalSec) * time.Second
}

func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSec) * time.Second
}

func (c *Config) CleanupGrace() time.Duration {
	return time.Duration(c.CleanupGraceSec) * time.Second
}
