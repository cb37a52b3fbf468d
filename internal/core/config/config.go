package config

import (
	"time"

	redisclient "github.com/vietddude/chainguard/internal/infra/redis"
	"github.com/vietddude/chainguard/internal/resilience/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Retry    RetryConfig        `yaml:"retry"`
	Breaker  BreakerConfig      `yaml:"breaker"`
	ErrorLog ErrorLogConfig     `yaml:"error_log"`
	Redis    redisclient.Config `yaml:"redis"`
	Channel  ChannelConfig      `yaml:"channel"`
	RPC      RPCConfig          `yaml:"rpc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig overrides the preset retry policies.
type RetryConfig struct {
	Network    RetryOverride `yaml:"network"`
	Wallet     RetryOverride `yaml:"wallet"`
	Blockchain RetryOverride `yaml:"blockchain"`
}

// RetryPolicies are the presets with their configured overrides applied.
type RetryPolicies struct {
	Network    retry.Policy
	Wallet     retry.Policy
	Blockchain retry.Policy
}

// Policies builds every preset with its override.
func (c RetryConfig) Policies() RetryPolicies {
	return RetryPolicies{
		Network:    retry.NetworkPolicy(c.Network.Options()...),
		Wallet:     retry.WalletPolicy(c.Wallet.Options()...),
		Blockchain: retry.BlockchainPolicy(c.Blockchain.Options()...),
	}
}

// RetryOverride replaces individual preset fields. Unset fields keep the
// preset value.
type RetryOverride struct {
	Retries  *int          `yaml:"retries"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Jitter   *float64      `yaml:"jitter"`
}

// Options converts the override to retry options.
func (o RetryOverride) Options() []retry.Option {
	var opts []retry.Option
	if o.Retries != nil {
		opts = append(opts, retry.WithRetries(*o.Retries))
	}
	if o.Delay > 0 {
		opts = append(opts, retry.WithDelay(o.Delay))
	}
	if o.MaxDelay > 0 {
		opts = append(opts, retry.WithMaxDelay(o.MaxDelay))
	}
	if o.Jitter != nil {
		opts = append(opts, retry.WithJitter(*o.Jitter))
	}
	return opts
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ErrorLogConfig selects and tunes the error log store.
type ErrorLogConfig struct {
	Driver     string        `yaml:"driver"` // memory, redis, pgx, postgres, sqlite
	URL        string        `yaml:"url"`    // SQL drivers only
	Namespace  string        `yaml:"namespace"`
	MaxRecords int           `yaml:"max_records"`
	Retention  time.Duration `yaml:"retention"` // 0 = count-based retention only
	UserAgent  string        `yaml:"user_agent"`
	AppURL     string        `yaml:"app_url"`
}

// ChannelConfig holds realtime channel settings.
type ChannelConfig struct {
	URL                  string               `yaml:"url"`
	Headers              map[string]string    `yaml:"headers"`
	BaseDelay            time.Duration        `yaml:"base_delay"`
	MaxReconnectAttempts int                  `yaml:"max_reconnect_attempts"`
	ConnectTimeout       time.Duration        `yaml:"connect_timeout"`
	Subscriptions        []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig is a subscription opened at startup.
type SubscriptionConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// RPCConfig holds the RPC monitor settings.
type RPCConfig struct {
	Interval  time.Duration    `yaml:"interval"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Type    string        `yaml:"type"`    // http (default), grpc
	Service string        `yaml:"service"` // grpc health service name
	Timeout time.Duration `yaml:"timeout"`
}
