package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`

	// Voice is environment-only; RTC settings follow the media
	// deployment rather than the config file.
	Voice VoiceConfig `yaml:"-"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TrustedProxies lists CIDRs whose forwarding headers are believed
	// when resolving client IPs for rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	TokenKey        string        `yaml:"token_key"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type VoiceConfig struct {
	PortMin    uint16 `env:"RTC_PORT_MIN" envDefault:"10000"`
	PortMax    uint16 `env:"RTC_PORT_MAX" envDefault:"11000"`
	AnnounceIP string `env:"ANNOUNCE_IP" envDefault:"127.0.0.1"`
	EnableUDP  bool   `env:"ENABLE_UDP" envDefault:"true"`
	EnableTCP  bool   `env:"ENABLE_TCP" envDefault:"true"`
	PreferUDP  bool   `env:"PREFER_UDP" envDefault:"true"`
	PreferTCP  bool   `env:"PREFER_TCP" envDefault:"false"`

	InitialAvailableOutgoingBitrate uint32 `env:"INITIAL_AVAILABLE_OUTGOING_BITRATE" envDefault:"600000"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Unknown keys are config typos; fail instead of silently ignoring
	// them. An empty file is fine, the environment can carry the rest.
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(&cfg.Voice); err != nil {
		return nil, fmt.Errorf("parsing voice environment: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZLING_TOKEN_KEY"); v != "" {
		c.Auth.TokenKey = v
	}
	if v := os.Getenv("ZLING_DB_PATH"); v != "" {
		c.Database.Path = v
	}
}

func (c *Config) validate() error {
	if c.Auth.TokenKey == "" {
		return fmt.Errorf("auth.token_key is required")
	}
	if len(c.Auth.TokenKey) < 32 {
		return fmt.Errorf("auth.token_key must be at least 32 characters")
	}
	if c.Voice.PortMin == 0 || c.Voice.PortMax < c.Voice.PortMin {
		return fmt.Errorf("RTC_PORT_MIN..RTC_PORT_MAX must be a non-empty port range")
	}
	if !c.Voice.EnableUDP && !c.Voice.EnableTCP {
		return fmt.Errorf("at least one of ENABLE_UDP and ENABLE_TCP must be true")
	}
	if c.Voice.PreferUDP == c.Voice.PreferTCP {
		return fmt.Errorf("exactly one of PREFER_UDP and PREFER_TCP must be true")
	}
	if c.Voice.PreferUDP && !c.Voice.EnableUDP {
		return fmt.Errorf("PREFER_UDP requires ENABLE_UDP")
	}
	if c.Voice.PreferTCP && !c.Voice.EnableTCP {
		return fmt.Errorf("PREFER_TCP requires ENABLE_TCP")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Zling Server"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/zling.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 10 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
