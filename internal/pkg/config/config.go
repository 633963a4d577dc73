// Package config assembles the process configuration once at startup. All
// components receive the resulting Config (or a section of it) explicitly.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

const (
	DefaultCreemAPIBaseURL = "https://api.creem.io"
	DefaultPrice           = "4.50"
	DefaultCurrency        = "USD"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Creem    CreemConfig
	Billing  BillingConfig
	Archive  ArchiveConfig
	OAuth    OAuthConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Env          string `validate:"required,oneof=dev test prod"`
	Host         string
	Port         string `validate:"required,numeric"`
	PublicDomain string
}

type DatabaseConfig struct {
	User     string `validate:"required"`
	Password string
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Name     string `validate:"required"`
}

type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
}

// CreemConfig holds the payment processor credentials. The webhook secret is
// not required at boot: an unconfigured secret is reported per request.
type CreemConfig struct {
	APIKey              string
	APIBaseURL          string `validate:"required,url"`
	WebhookSecret       string
	ProductIDPro        string
	ProductIDEnterprise string
}

type BillingConfig struct {
	DefaultPriceCents int64  `validate:"gt=0"`
	DefaultCurrency   string `validate:"required,len=3"`
	// RequireSignature rejects deliveries without a signature header.
	RequireSignature bool
	// EnforceEventOrder ignores events older than the last applied event for a user.
	EnforceEventOrder bool
}

type ArchiveConfig struct {
	Enabled         bool
	AccessKeyID     string `validate:"required_if=Enabled true"`
	SecretAccessKey string `validate:"required_if=Enabled true"`
	Region          string
	Bucket          string `validate:"required_if=Enabled true"`
	EndpointURL     string // Optional for S3-compatible services
}

type OAuthConfig struct {
	GoogleKey    string
	GoogleSecret string
	GitHubKey    string
	GitHubSecret string
}

type MetricsConfig struct {
	User     string
	Password string
}

// Load reads the environment (after env.SetupEnvFile) and validates the result.
func Load() (*Config, error) {
	priceCents, err := money.ParseCents(env.GetEnv("BILLING_DEFAULT_PRICE", DefaultPrice))
	if err != nil {
		return nil, fmt.Errorf("BILLING_DEFAULT_PRICE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Env:          env.GetEnv("APP_ENV", "prod"),
			Host:         env.GetEnv("APP_HOST", "localhost"),
			Port:         env.GetEnv("APP_PORT", "4000"),
			PublicDomain: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
		},
		Database: DatabaseConfig{
			User:     env.GetEnv("DB_USER", "payfox"),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", "payfox_db"),
		},
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Creem: CreemConfig{
			APIKey:              strings.TrimSpace(env.GetEnv("CREEM_API_KEY", "")),
			APIBaseURL:          strings.TrimRight(env.GetEnv("CREEM_API_BASE_URL", DefaultCreemAPIBaseURL), "/"),
			WebhookSecret:       strings.TrimSpace(env.GetEnv("CREEM_WEBHOOK_SECRET", "")),
			ProductIDPro:        strings.TrimSpace(env.GetEnv("CREEM_PRODUCT_ID_PRO", "")),
			ProductIDEnterprise: strings.TrimSpace(env.GetEnv("CREEM_PRODUCT_ID_ENTERPRISE", "")),
		},
		Billing: BillingConfig{
			DefaultPriceCents: priceCents,
			DefaultCurrency:   strings.ToUpper(env.GetEnv("BILLING_DEFAULT_CURRENCY", DefaultCurrency)),
			RequireSignature:  env.GetBool("CREEM_REQUIRE_SIGNATURE", false),
			EnforceEventOrder: env.GetBool("BILLING_ENFORCE_EVENT_ORDER", false),
		},
		Archive: ArchiveConfig{
			Enabled:         env.GetBool("ARCHIVE_S3_ENABLED", false),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			Bucket:          env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
		OAuth: OAuthConfig{
			GoogleKey:    env.GetEnv("GOOGLE_KEY", ""),
			GoogleSecret: env.GetEnv("GOOGLE_SECRET", ""),
			GitHubKey:    env.GetEnv("GITHUB_KEY", ""),
			GitHubSecret: env.GetEnv("GITHUB_SECRET", ""),
		},
		Metrics: MetricsConfig{
			User:     env.GetEnv("METRICS_USER", "admin"),
			Password: env.GetEnv("METRICS_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.App.Host, c.App.Port)
}

// PublicBaseURL is the externally reachable origin used for OAuth callbacks
// and checkout redirect URLs.
func (c *Config) PublicBaseURL() string {
	if c.App.PublicDomain != "" {
		return c.App.PublicDomain
	}
	return "http://localhost:" + c.App.Port
}

// DSN returns the gorm/mysql data source name.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL returns the golang-migrate database URL.
func (d DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
