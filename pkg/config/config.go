package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address" env:"CINEWAVE_SERVER_ADDRESS"`
		ReadTimeout     time.Duration `yaml:"read_timeout" env:"CINEWAVE_SERVER_READ_TIMEOUT"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"CINEWAVE_SERVER_WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CINEWAVE_SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Signal struct {
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval" env:"CINEWAVE_SIGNAL_PING_INTERVAL"`
		PongTimeout  time.Duration `yaml:"pong_timeout" env:"CINEWAVE_SIGNAL_PONG_TIMEOUT"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"signal"`

	WatchParty struct {
		DriftToleranceSeconds float64       `yaml:"drift_tolerance_seconds" env:"CINEWAVE_DRIFT_TOLERANCE_SECONDS"`
		IdleRoomTTL           time.Duration `yaml:"idle_room_ttl" env:"CINEWAVE_IDLE_ROOM_TTL"`
		ReaperInterval        time.Duration `yaml:"reaper_interval"`
		PresenceTTL           time.Duration `yaml:"presence_ttl" env:"CINEWAVE_PRESENCE_TTL"`
		InviteCodeAttempts    int           `yaml:"invite_code_attempts"`
		ChatMaxLength         int           `yaml:"chat_max_length"`
		PersistMaxAttempts    int           `yaml:"persist_max_attempts"`
		PersistInitialDelay   time.Duration `yaml:"persist_initial_delay"`
		PersistMaxDelay       time.Duration `yaml:"persist_max_delay"`
	} `yaml:"watch_party"`

	Admission struct {
		LeaseTTL                time.Duration `yaml:"lease_ttl" env:"CINEWAVE_LEASE_TTL"`
		HeartbeatInterval       time.Duration `yaml:"heartbeat_interval" env:"CINEWAVE_HEARTBEAT_INTERVAL"`
		LeaseSetGrace           time.Duration `yaml:"lease_set_grace"`
		DefaultMaxStreams       int           `yaml:"default_max_streams"`
		BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
	} `yaml:"admission"`

	Storage struct {
		// SQLitePath empty keeps everything in memory.
		SQLitePath      string        `yaml:"sqlite_path" env:"CINEWAVE_SQLITE_PATH"`
		ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
	} `yaml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" env:"CINEWAVE_REDIS_ENABLED"`
		Address  string `yaml:"address" env:"CINEWAVE_REDIS_ADDRESS"`
		Password string `yaml:"password" env:"CINEWAVE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"CINEWAVE_REDIS_DB"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret" env:"CINEWAVE_JWT_SECRET"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins" env:"CINEWAVE_ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled" env:"CINEWAVE_RATE_LIMITING_ENABLED"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled" env:"CINEWAVE_TRACING_ENABLED"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint" env:"CINEWAVE_JAEGER_ENDPOINT"`
		SampleRatio    float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level" env:"CINEWAVE_LOG_LEVEL"`
		Format string `yaml:"format" env:"CINEWAVE_LOG_FORMAT"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be > 0")
	}

	if c.WatchParty.DriftToleranceSeconds <= 0 {
		return fmt.Errorf("watch_party.drift_tolerance_seconds must be > 0")
	}
	if c.WatchParty.IdleRoomTTL < 0 {
		return fmt.Errorf("watch_party.idle_room_ttl must be >= 0")
	}
	if c.WatchParty.ReaperInterval <= 0 {
		return fmt.Errorf("watch_party.reaper_interval must be > 0")
	}
	if c.WatchParty.PresenceTTL <= 0 {
		return fmt.Errorf("watch_party.presence_ttl must be > 0")
	}
	if c.WatchParty.InviteCodeAttempts <= 0 {
		return fmt.Errorf("watch_party.invite_code_attempts must be > 0")
	}
	if c.WatchParty.ChatMaxLength <= 0 {
		return fmt.Errorf("watch_party.chat_max_length must be > 0")
	}
	if c.WatchParty.PersistMaxAttempts < 0 {
		return fmt.Errorf("watch_party.persist_max_attempts must be >= 0")
	}

	if c.Admission.LeaseTTL <= 0 {
		return fmt.Errorf("admission.lease_ttl must be > 0")
	}
	if c.Admission.HeartbeatInterval <= 0 || c.Admission.HeartbeatInterval >= c.Admission.LeaseTTL {
		return fmt.Errorf("admission.heartbeat_interval must be > 0 and < admission.lease_ttl")
	}
	if c.Admission.LeaseSetGrace < 0 {
		return fmt.Errorf("admission.lease_set_grace must be >= 0")
	}
	if c.Admission.DefaultMaxStreams <= 0 {
		return fmt.Errorf("admission.default_max_streams must be > 0")
	}
	if c.Admission.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("admission.breaker_failure_threshold must be > 0")
	}
	if c.Admission.BreakerOpenTimeout <= 0 {
		return fmt.Errorf("admission.breaker_open_timeout must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads the YAML file over DefaultConfig, applies CINEWAVE_* environment
// overrides and validates the result. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendBuffer = 64

	cfg.WatchParty.DriftToleranceSeconds = 1.5
	cfg.WatchParty.IdleRoomTTL = 0
	cfg.WatchParty.ReaperInterval = 10 * time.Minute
	cfg.WatchParty.PresenceTTL = 30 * time.Second
	cfg.WatchParty.InviteCodeAttempts = 10
	cfg.WatchParty.ChatMaxLength = 1000
	cfg.WatchParty.PersistMaxAttempts = 3
	cfg.WatchParty.PersistInitialDelay = 100 * time.Millisecond
	cfg.WatchParty.PersistMaxDelay = 2 * time.Second

	cfg.Admission.LeaseTTL = 60 * time.Second
	cfg.Admission.HeartbeatInterval = 30 * time.Second
	cfg.Admission.LeaseSetGrace = 10 * time.Second
	cfg.Admission.DefaultMaxStreams = 1
	cfg.Admission.BreakerFailureThreshold = 5
	cfg.Admission.BreakerOpenTimeout = 15 * time.Second

	cfg.Storage.ProfileCacheTTL = time.Minute

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 16 * 1024

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRatio = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
