package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultJoinTimeout          = 10 * time.Second
	DefaultRelayAddr            = ":8080"
	DefaultMaxParticipants      = 32
	DefaultMemberTimeout        = 90 * time.Second
)

// Snapshot store backends understood by the relay.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

type Config struct {
	Client ClientConfig `yaml:"client"`
	Relay  RelayConfig  `yaml:"relay"`

	JournalPath string `yaml:"journal_path"`
	LogLevel    string `yaml:"log_level"`
}

type ClientConfig struct {
	URL                  string        `yaml:"url"`
	UserID               string        `yaml:"user_id"`
	Token                string        `yaml:"token"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	JoinTimeout          time.Duration `yaml:"join_timeout"`
}

type RelayConfig struct {
	Addr            string        `yaml:"addr"`
	RedisAddr       string        `yaml:"redis_addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	MaxParticipants int           `yaml:"max_participants"`
	MemberTimeout   time.Duration `yaml:"member_timeout"`
	Store           string        `yaml:"store"`
	BoltPath        string        `yaml:"bolt_path"`
	DatabaseURL     string        `yaml:"database_url"`
	MDNS            bool          `yaml:"mdns"`
}

func Default() Config {
	return Config{
		Client: ClientConfig{
			HeartbeatInterval:    DefaultHeartbeatInterval,
			ReconnectBaseDelay:   DefaultReconnectBaseDelay,
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			JoinTimeout:          DefaultJoinTimeout,
		},
		Relay: RelayConfig{
			Addr:            DefaultRelayAddr,
			MaxParticipants: DefaultMaxParticipants,
			MemberTimeout:   DefaultMemberTimeout,
			Store:           StoreMemory,
		},
		LogLevel: "info",
	}
}

// Load reads the optional YAML file at path, then overlays .env and process
// environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LIVEDOC_URL", &c.Client.URL)
	str("LIVEDOC_USER", &c.Client.UserID)
	str("LIVEDOC_TOKEN", &c.Client.Token)
	str("LIVEDOC_JOURNAL", &c.JournalPath)
	str("LIVEDOC_RELAY_ADDR", &c.Relay.Addr)
	str("LIVEDOC_REDIS_ADDR", &c.Relay.RedisAddr)
	str("LIVEDOC_JWT_SECRET", &c.Relay.JWTSecret)
	str("LIVEDOC_STORE", &c.Relay.Store)
	str("LIVEDOC_BOLT_PATH", &c.Relay.BoltPath)
	str("DATABASE_URL", &c.Relay.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("LIVEDOC_MAX_RECONNECT_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIVEDOC_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		c.Client.MaxReconnectAttempts = n
	}
	if v, ok := lookup("LIVEDOC_MDNS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIVEDOC_MDNS: %w", err)
		}
		c.Relay.MDNS = b
	}
	for key, dst := range map[string]*time.Duration{
		"LIVEDOC_HEARTBEAT_INTERVAL":   &c.Client.HeartbeatInterval,
		"LIVEDOC_RECONNECT_BASE_DELAY": &c.Client.ReconnectBaseDelay,
		"LIVEDOC_JOIN_TIMEOUT":         &c.Client.JoinTimeout,
		"LIVEDOC_MEMBER_TIMEOUT":       &c.Relay.MemberTimeout,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.Client.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Client.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.Client.JoinTimeout <= 0 {
		return fmt.Errorf("join timeout must be positive")
	}
	if c.Relay.MaxParticipants <= 0 {
		return fmt.Errorf("relay max participants must be positive")
	}
	if c.Relay.MemberTimeout <= 0 {
		return fmt.Errorf("relay member timeout must be positive")
	}
	switch c.Relay.Store {
	case StoreMemory:
	case StoreBolt:
		if c.Relay.BoltPath == "" {
			return fmt.Errorf("relay store %q needs bolt_path", c.Relay.Store)
		}
	case StorePostgres:
		if c.Relay.DatabaseURL == "" {
			return fmt.Errorf("relay store %q needs database_url", c.Relay.Store)
		}
	default:
		return fmt.Errorf("unknown relay store %q", c.Relay.Store)
	}
	return nil
}
