package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${ENV} references and fills defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range cfg.Channel.Subscriptions {
		cfg.Channel.Subscriptions[i].Params = normalizeMap(cfg.Channel.Subscriptions[i].Params)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 60 * time.Second
	}

	if c.ErrorLog.Driver == "" {
		c.ErrorLog.Driver = "memory"
	}
	if c.ErrorLog.MaxRecords == 0 {
		c.ErrorLog.MaxRecords = 1000
	}
	if c.ErrorLog.Namespace == "" {
		c.ErrorLog.Namespace = "default"
	}

	if c.Channel.BaseDelay == 0 {
		c.Channel.BaseDelay = time.Second
	}
	if c.Channel.MaxReconnectAttempts == 0 {
		c.Channel.MaxReconnectAttempts = 5
	}
	if c.Channel.ConnectTimeout == 0 {
		c.Channel.ConnectTimeout = 10 * time.Second
	}

	if c.RPC.Interval == 0 {
		c.RPC.Interval = 15 * time.Second
	}
	for i := range c.RPC.Providers {
		if c.RPC.Providers[i].Type == "" {
			c.RPC.Providers[i].Type = "http"
		}
		if c.RPC.Providers[i].Timeout == 0 {
			c.RPC.Providers[i].Timeout = 10 * time.Second
		}
	}
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	switch c.ErrorLog.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: error_log.driver redis requires redis.url", ErrInvalid)
		}
	case "pgx", "postgres", "sqlite":
		if c.ErrorLog.URL == "" {
			return fmt.Errorf("%w: error_log.driver %s requires error_log.url", ErrInvalid, c.ErrorLog.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown error_log.driver %q", ErrInvalid, c.ErrorLog.Driver)
	}

	for i, sub := range c.Channel.Subscriptions {
		if sub.Type == "" {
			return fmt.Errorf("%w: channel.subscriptions[%d] has no type", ErrInvalid, i)
		}
	}

	seen := make(map[string]bool)
	for i, p := range c.RPC.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("%w: rpc.providers[%d] needs name and url", ErrInvalid, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate rpc provider %q", ErrInvalid, p.Name)
		}
		seen[p.Name] = true
		if p.Type != "http" && p.Type != "grpc" {
			return fmt.Errorf("%w: rpc.providers[%d] has unknown type %q", ErrInvalid, i, p.Type)
		}
	}
	return nil
}

// normalizeMap turns the map[interface{}]interface{} values yaml.v2 produces
// for nested mappings into map[string]any so they encode as JSON.
func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case map[string]any:
		return normalizeMap(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
