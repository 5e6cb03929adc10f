package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		Path            string        `yaml:"path"`
		AccessKey       string        `yaml:"access_key"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimit struct {
			Enabled              bool `yaml:"enabled"`
			ConnectionsPerMinute int  `yaml:"connections_per_minute"`
			Burst                int  `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"relay"`

	Sessions struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		JWTSecret       string        `yaml:"jwt_secret"`
		TokenTTL        time.Duration `yaml:"token_ttl"`
	} `yaml:"sessions"`

	Call struct {
		RelayOpenTimeout time.Duration `yaml:"relay_open_timeout"`
		ConnectTimeout   time.Duration `yaml:"connect_timeout"`
		QualityInterval  time.Duration `yaml:"quality_interval"`
		RetryAttempts    int           `yaml:"retry_attempts"`
		RetryDelay       time.Duration `yaml:"retry_delay"`
	} `yaml:"call"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled   bool   `yaml:"enabled"`
		JaegerURL string `yaml:"jaeger_url"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be in 1..65535")
	}
	if c.Relay.Path == "" {
		return fmt.Errorf("relay.path must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}
	if c.Relay.RateLimit.Enabled {
		if c.Relay.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("relay.rate_limit.connections_per_minute must be > 0 when enabled")
		}
		if c.Relay.RateLimit.Burst <= 0 {
			return fmt.Errorf("relay.rate_limit.burst must be > 0 when enabled")
		}
	}

	if c.Sessions.Address == "" {
		return fmt.Errorf("sessions.address must not be empty")
	}
	if c.Sessions.ShutdownTimeout <= 0 {
		return fmt.Errorf("sessions.shutdown_timeout must be > 0")
	}
	if c.Sessions.JWTSecret == "" {
		return fmt.Errorf("sessions.jwt_secret must not be empty")
	}
	if c.Sessions.TokenTTL <= 0 {
		return fmt.Errorf("sessions.token_ttl must be > 0")
	}

	if c.Call.RelayOpenTimeout <= 0 {
		return fmt.Errorf("call.relay_open_timeout must be > 0")
	}
	if c.Call.ConnectTimeout <= 0 {
		return fmt.Errorf("call.connect_timeout must be > 0")
	}
	if c.Call.QualityInterval <= 0 {
		return fmt.Errorf("call.quality_interval must be > 0")
	}
	if c.Call.RetryAttempts < 0 {
		return fmt.Errorf("call.retry_attempts must be >= 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error: defaults plus environment
// form a complete configuration for the relay process.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Relay.Host = "0.0.0.0"
	cfg.Relay.Port = 9000
	cfg.Relay.Path = "/relay"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.RateLimit.Enabled = false
	cfg.Relay.RateLimit.ConnectionsPerMinute = 60
	cfg.Relay.RateLimit.Burst = 10

	cfg.Sessions.Address = ":8080"
	cfg.Sessions.ShutdownTimeout = 30 * time.Second
	cfg.Sessions.JWTSecret = "change-me-in-production"
	cfg.Sessions.TokenTTL = 24 * time.Hour

	cfg.Call.RelayOpenTimeout = 10 * time.Second
	cfg.Call.ConnectTimeout = 30 * time.Second
	cfg.Call.QualityInterval = 5 * time.Second
	cfg.Call.RetryAttempts = 3
	cfg.Call.RetryDelay = 2 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"

	cfg.Logging.Level = "info"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("TUTORLINK_RELAY_HOST"); host != "" {
		c.Relay.Host = host
	}
	if port := os.Getenv("TUTORLINK_RELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Relay.Port = p
		}
	}
	if path := os.Getenv("TUTORLINK_RELAY_PATH"); path != "" {
		c.Relay.Path = path
	}
	if key := os.Getenv("TUTORLINK_RELAY_KEY"); key != "" {
		c.Relay.AccessKey = key
	}
	if addr := os.Getenv("TUTORLINK_SESSIONS_ADDRESS"); addr != "" {
		c.Sessions.Address = addr
	}
	if secret := os.Getenv("TUTORLINK_JWT_SECRET"); secret != "" {
		c.Sessions.JWTSecret = secret
	}
	if level := os.Getenv("TUTORLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// RelayListenAddress is the host:port the relay binds to.
func (c *Config) RelayListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Relay.Host, c.Relay.Port)
}
