// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/shopspring/decimal"

	"storefront-cart/internal/persist"
	"storefront-cart/internal/pricing"
	"storefront-cart/internal/retry"
	"storefront-cart/internal/transport"
)

// Config holds all service configuration.
// Environment determines whether the API token loads from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string

	API       APIConfig
	Storage   StorageConfig
	Pricing   PricingConfig
	Retry     RetryConfig
	Analytics AnalyticsConfig

	// NotificationFeed caps the notifications buffered for GET /notifications.
	NotificationFeed int
}

// APIConfig locates the storefront API.
type APIConfig struct {
	BaseURL   string        `json:"base_url"`
	Token     string        `json:"token,omitempty"`        // static token; sessions override it
	Secret    string        `json:"token_secret,omitempty"` // Secret Manager secret holding the token
	Transport string        `json:"transport,omitempty"`    // "standard" or "chrome"
	Timeout   time.Duration `json:"-"`
}

// StorageConfig selects where cart and wishlist state persist.
type StorageConfig struct {
	Kind      string `json:"kind"` // "memory", "file", "redis"
	Dir       string `json:"dir,omitempty"`
	RedisURL  string `json:"redis_url,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// PricingConfig feeds the display totals calculator.
type PricingConfig struct {
	FreeShippingThreshold int64  `json:"free_shipping_threshold"`
	BaseShipping          int64  `json:"base_shipping"`
	TaxRate               string `json:"tax_rate"` // decimal string, e.g. "0.18"
}

// RetryConfig configures storefront call retries.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"-"`
}

// AnalyticsConfig selects the analytics sink.
type AnalyticsConfig struct {
	Sink    string   `json:"sink"` // "none", "log", "kafka"
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}

// Defaults.
const (
	defaultTimeout   = 15 * time.Second
	defaultFeedSize  = 50
	defaultTaxRate   = pricing.DefaultTaxRate
	defaultThreshold = pricing.DefaultFreeShippingThreshold
	defaultShipping  = pricing.DefaultBaseShipping
)

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	// Production reads the API token from Secret Manager
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.API.Secret != "" {
			if err := cfg.loadTokenFromSecretManager(ctx); err != nil {
				return nil, fmt.Errorf("loading API token: %w", err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Durations are strings in the file ("15s", "500ms")
	var fileConfig struct {
		Port        string `json:"port"`
		Environment string `json:"environment"`
		LogLevel    string `json:"log_level"`
		API         struct {
			APIConfig
			Timeout string `json:"timeout"`
		} `json:"api"`
		Storage StorageConfig `json:"storage"`
		Pricing PricingConfig `json:"pricing"`
		Retry   struct {
			RetryConfig
			BaseDelay string `json:"base_delay"`
		} `json:"retry"`
		Analytics        AnalyticsConfig `json:"analytics"`
		NotificationFeed int             `json:"notification_feed"`
	}

	// Absent pricing fields keep their defaults
	fileConfig.Pricing = PricingConfig{FreeShippingThreshold: defaultThreshold, BaseShipping: defaultShipping}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:             withDefault(fileConfig.Port, "8080"),
		Environment:      withDefault(fileConfig.Environment, "development"),
		LogLevel:         withDefault(fileConfig.LogLevel, "info"),
		API:              fileConfig.API.APIConfig,
		Storage:          fileConfig.Storage,
		Pricing:          fileConfig.Pricing,
		Retry:            fileConfig.Retry.RetryConfig,
		Analytics:        fileConfig.Analytics,
		NotificationFeed: fileConfig.NotificationFeed,
	}

	if cfg.API.Timeout, err = parseDuration("api.timeout", fileConfig.API.Timeout, defaultTimeout); err != nil {
		return nil, err
	}
	if cfg.Retry.BaseDelay, err = parseDuration("retry.base_delay", fileConfig.Retry.BaseDelay, retry.DefaultBaseDelay); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv reads every section from individual environment variables.
func (c *Config) loadFromEnv() error {
	var err error

	c.API = APIConfig{
		BaseURL:   os.Getenv("STOREFRONT_URL"),
		Token:     os.Getenv("STOREFRONT_TOKEN"),
		Secret:    os.Getenv("API_TOKEN_SECRET"),
		Transport: os.Getenv("STOREFRONT_TRANSPORT"),
	}
	if c.API.Timeout, err = parseDuration("STOREFRONT_TIMEOUT", os.Getenv("STOREFRONT_TIMEOUT"), defaultTimeout); err != nil {
		return err
	}

	c.Storage = StorageConfig{
		Kind:      os.Getenv("STORAGE"),
		Dir:       os.Getenv("STORAGE_DIR"),
		RedisURL:  os.Getenv("REDIS_URL"),
		KeyPrefix: os.Getenv("REDIS_KEY_PREFIX"),
	}

	c.Pricing.TaxRate = os.Getenv("TAX_RATE")
	if c.Pricing.FreeShippingThreshold, err = parseInt64("FREE_SHIPPING_THRESHOLD", defaultThreshold); err != nil {
		return err
	}
	if c.Pricing.BaseShipping, err = parseInt64("BASE_SHIPPING", defaultShipping); err != nil {
		return err
	}

	attempts, err := parseInt64("RETRY_MAX_ATTEMPTS", retry.DefaultMaxAttempts)
	if err != nil {
		return err
	}
	c.Retry.MaxAttempts = int(attempts)
	if c.Retry.BaseDelay, err = parseDuration("RETRY_BASE_DELAY", os.Getenv("RETRY_BASE_DELAY"), retry.DefaultBaseDelay); err != nil {
		return err
	}

	c.Analytics = AnalyticsConfig{
		Sink:  os.Getenv("ANALYTICS"),
		Topic: os.Getenv("KAFKA_TOPIC"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Analytics.Brokers = append(c.Analytics.Brokers, b)
			}
		}
	}

	feed, err := parseInt64("NOTIFICATION_FEED_SIZE", defaultFeedSize)
	if err != nil {
		return err
	}
	c.NotificationFeed = int(feed)

	c.applyDefaults()
	return nil
}

// loadTokenFromSecretManager fetches the storefront API token.
// Secret name format: projects/{project}/secrets/{secret}/versions/latest
func (c *Config) loadTokenFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.API.Secret)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	c.API.Token = strings.TrimSpace(string(result.Payload.Data))
	return nil
}

// applyDefaults fills zero values left by the file or environment.
func (c *Config) applyDefaults() {
	c.API.Transport = withDefault(c.API.Transport, string(transport.KindStandard))
	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultTimeout
	}
	c.Storage.Kind = withDefault(c.Storage.Kind, string(persist.KindMemory))
	c.Pricing.TaxRate = withDefault(c.Pricing.TaxRate, defaultTaxRate)
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = retry.DefaultBaseDelay
	}
	c.Analytics.Sink = withDefault(c.Analytics.Sink, "none")
	if c.NotificationFeed <= 0 {
		c.NotificationFeed = defaultFeedSize
	}
}

// validate checks that all required configuration fields are present and consistent.
func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("storefront base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid storefront base_url %q", c.API.BaseURL)
	}

	switch transport.Kind(c.API.Transport) {
	case transport.KindStandard, transport.KindChrome:
	default:
		return fmt.Errorf("transport must be standard or chrome, got %q", c.API.Transport)
	}

	switch persist.Kind(c.Storage.Kind) {
	case persist.KindMemory:
	case persist.KindFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage dir is required for file storage")
		}
	case persist.KindRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis_url is required for redis storage")
		}
	default:
		return fmt.Errorf("storage kind must be memory, file, or redis, got %q", c.Storage.Kind)
	}

	if _, err := c.Pricing.Config(); err != nil {
		return err
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay must not be negative")
	}

	switch c.Analytics.Sink {
	case "none", "log":
	case "kafka":
		if len(c.Analytics.Brokers) == 0 {
			return fmt.Errorf("analytics brokers are required for kafka sink")
		}
	default:
		return fmt.Errorf("analytics sink must be none, log, or kafka, got %q", c.Analytics.Sink)
	}

	return nil
}

// Config converts the section to calculator settings.
func (p PricingConfig) Config() (pricing.Config, error) {
	rate, err := decimal.NewFromString(p.TaxRate)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("invalid tax_rate %q: %w", p.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return pricing.Config{}, fmt.Errorf("tax_rate must be in [0, 1), got %s", p.TaxRate)
	}
	if p.FreeShippingThreshold < 0 || p.BaseShipping < 0 {
		return pricing.Config{}, fmt.Errorf("shipping amounts must not be negative")
	}
	return pricing.Config{
		FreeShippingThreshold: p.FreeShippingThreshold,
		BaseShipping:          p.BaseShipping,
		TaxRate:               rate,
	}, nil
}

// Policy converts the section to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay}
}

// Persist converts the section to storage settings.
func (s StorageConfig) Persist() persist.Config {
	return persist.Config{
		Kind:      persist.Kind(s.Kind),
		Dir:       s.Dir,
		RedisURL:  s.RedisURL,
		KeyPrefix: s.KeyPrefix,
	}
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseInt64(key string, defaultVal int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

func parseDuration(name, raw string, defaultVal time.Duration) (time.Duration, error) {
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}
