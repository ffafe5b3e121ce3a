package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig signs operator tokens accepted by the decision endpoints.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type WalletConfig struct {
	Network     string            `mapstructure:"network"`
	RPCURL      string            `mapstructure:"rpc_url"`
	PrivateKey  string            `mapstructure:"private_key"` // hex owner key, also drives the fallback signer
	SmartWallet SmartWalletConfig `mapstructure:"smart_wallet"`
}

type SmartWalletConfig struct {
	APIKeyID     string        `mapstructure:"api_key_id"`
	APIKeySecret string        `mapstructure:"api_key_secret"` // base64 Ed25519 key
	WalletSecret string        `mapstructure:"wallet_secret"`  // base64 PKCS8 EC key, optional
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Configured reports whether the provider credentials are present.
func (s SmartWalletConfig) Configured() bool {
	return s.APIKeyID != "" && s.APIKeySecret != ""
}

type ApprovalConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
}

type PaymentConfig struct {
	BalanceAttempts      int           `mapstructure:"balance_attempts"`
	BalanceRetryInterval time.Duration `mapstructure:"balance_retry_interval"`
	ReferenceTTL         time.Duration `mapstructure:"reference_ttl"`
}

type RateLimitConfig struct {
	PaymentsPerMinute  int64 `mapstructure:"payments_per_minute"`
	DecisionsPerMinute int64 `mapstructure:"decisions_per_minute"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// WebhookConfig controls result callbacks for submitted payments.
type WebhookConfig struct {
	Secret         string          `mapstructure:"secret"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	RetryIntervals []time.Duration `mapstructure:"retry_intervals"`
}

// providerEnv maps config keys to the variable names wallet providers document.
var providerEnv = map[string]string{
	"wallet.smart_wallet.api_key_id":     "CDP_API_KEY_ID",
	"wallet.smart_wallet.api_key_secret": "CDP_API_KEY_SECRET",
	"wallet.smart_wallet.wallet_secret":  "CDP_WALLET_SECRET",
	"wallet.private_key":                 "PRIVATE_KEY",
	"wallet.network":                     "NETWORK_ID",
	"wallet.rpc_url":                     "RPC_URL",
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: APG_ (Agent Payment Gateway).
// Nested keys use underscore: APG_DATABASE_HOST, APG_APPROVAL_TIMEOUT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "agent_payments")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "agent-payment-gateway")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("wallet.network", domain.DefaultNetworkID)
	v.SetDefault("wallet.rpc_url", "")
	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.smart_wallet.api_key_id", "")
	v.SetDefault("wallet.smart_wallet.api_key_secret", "")
	v.SetDefault("wallet.smart_wallet.wallet_secret", "")
	v.SetDefault("wallet.smart_wallet.base_url", "https://api.cdp.coinbase.com/platform")
	v.SetDefault("wallet.smart_wallet.timeout", "30s")
	v.SetDefault("approval.timeout", "5m")
	v.SetDefault("approval.tombstone_ttl", "1h")
	v.SetDefault("payment.balance_attempts", 3)
	v.SetDefault("payment.balance_retry_interval", "500ms")
	v.SetDefault("payment.reference_ttl", "24h")
	v.SetDefault("ratelimit.payments_per_minute", 30)
	v.SetDefault("ratelimit.decisions_per_minute", 60)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "agent-payment-gateway")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.retry_intervals", []string{"15s", "60s", "2m", "5m", "10m"})

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// APG_WALLET_NETWORK -> wallet.network
	v.SetEnvPrefix("APG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range providerEnv {
		prefixed := "APG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := domain.LookupNetwork(c.Wallet.Network); !ok {
		errs = append(errs, fmt.Errorf("wallet.network: unknown network %q", c.Wallet.Network))
	}
	if c.Approval.Timeout <= 0 {
		errs = append(errs, errors.New("approval.timeout must be positive"))
	}
	if c.Payment.BalanceAttempts < 1 {
		errs = append(errs, errors.New("payment.balance_attempts must be at least 1"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}

	return errors.Join(errs...)
}
