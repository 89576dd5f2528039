// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // externally reachable prefix for callback/return URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AdminAPIKey    string        `yaml:"admin_api_key"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // default TTL for binding sessions
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GatewayConfig holds one provider's credentials and knobs. skip_signature_check
// exists for local development against provider sandboxes that sign nothing;
// LoadConfig forces it off outside dev mode.
type GatewayConfig struct {
	BaseURL            string        `yaml:"base_url"`
	StoreID            string        `yaml:"store_id"`
	ConsumerKey        string        `yaml:"consumer_key"`
	ConsumerSecret     string        `yaml:"consumer_secret"`
	WebhookSecret      string        `yaml:"webhook_secret"`
	TokenMargin        time.Duration `yaml:"token_margin"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SkipSignatureCheck bool          `yaml:"skip_signature_check"`
}

type GatewaysConfig struct {
	Checkout GatewayConfig `yaml:"checkout"`
	ScanPay  GatewayConfig `yaml:"scanpay"`
}

// PlansConfig maps plan -> tier months -> price in tiyin.
type PlansConfig map[string]map[int]int64

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Workers    int           `yaml:"workers"`
}

type ExpiryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // AES key for card tokens at rest, 16/24/32 bytes
}

type Config struct {
	Environment string           `yaml:"environment"` // production|staging|dev
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Auth        AuthConfig       `yaml:"auth"`
	Gateways    GatewaysConfig   `yaml:"gateways"`
	Plans       PlansConfig      `yaml:"plans"`
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Expiry      ExpiryConfig     `yaml:"expiry"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	Security    SecurityConfig   `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func (c *Config) Production() bool { return c.Environment == "production" }

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if cfg.Gateways.Checkout.WebhookSecret == "" || cfg.Gateways.ScanPay.WebhookSecret == "" {
		return nil, errors.New("gateways.*.webhook_secret is required")
	}
	if err := validatePlans(cfg.Plans); err != nil {
		return nil, err
	}
	if cfg.Security.EncryptionKey == "" {
		if cfg.Production() {
			return nil, errors.New("security.encryption_key is required in production")
		}
		cfg.Security.EncryptionKey = "0123456789abcdef0123456789abcdef"
	}

	// The signature bypass must be impossible in production, whatever the file says.
	if cfg.Production() || !cfg.Runtime.Dev {
		cfg.Gateways.Checkout.SkipSignatureCheck = false
		cfg.Gateways.ScanPay.SkipSignatureCheck = false
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		if cfg.Runtime.Dev {
			cfg.Environment = "dev"
		} else {
			cfg.Environment = "production"
		}
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	for _, gw := range []*GatewayConfig{&cfg.Gateways.Checkout, &cfg.Gateways.ScanPay} {
		if gw.TokenMargin <= 0 {
			gw.TokenMargin = time.Hour
		}
		if gw.RequestTimeout <= 0 {
			gw.RequestTimeout = 10 * time.Second
		}
	}

	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if cfg.Expiry.Interval <= 0 {
		cfg.Expiry.Interval = time.Hour
	}
}

func validatePlans(plans PlansConfig) error {
	if len(plans) == 0 {
		return errors.New("plans price table is required")
	}
	for plan, tiers := range plans {
		for months, amount := range tiers {
			if months != 1 && months != 3 && months != 6 {
				return fmt.Errorf("plans.%s: unsupported tier %d", plan, months)
			}
			if amount <= 0 {
				return fmt.Errorf("plans.%s.%d: amount must be positive", plan, months)
			}
		}
	}
	return nil
}

// PriceFor resolves the price of a plan tier; ok=false when not sold.
func (p PlansConfig) PriceFor(plan string, months int) (int64, bool) {
	tiers, ok := p[plan]
	if !ok {
		return 0, false
	}
	amount, ok := tiers[months]
	return amount, ok
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
