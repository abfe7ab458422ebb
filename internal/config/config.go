package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvRedisAddr    = "REDIS_ADDR"
	EnvListenAddr   = "LISTEN_ADDR"
	EnvGongKey      = "GONG_ACCESS_KEY"
	EnvGongSecret   = "GONG_SECRET_KEY"
)

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// defaultJWTExpiry is used when the config omits or invalidates token expiry.
const defaultJWTExpiry = 7 * 24 * time.Hour

// JWTConfig holds session token secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig holds the optional ephemeral-store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// GongConfig holds the upstream API credentials.
type GongConfig struct {
	BaseURL   string `yaml:"base-url"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
}

// TrackerConfig holds the analytics delivery settings.
type TrackerConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// TierLimitConfig overrides quota parameters for one tier.
type TierLimitConfig struct {
	WindowLimit int `yaml:"window-limit"`
	WindowDays  int `yaml:"window-days"`
	TotalLimit  int `yaml:"total-limit"`
}

// Config is the full application configuration.
type Config struct {
	ListenAddr     string                     `yaml:"listen-addr"`
	BaseURL        string                     `yaml:"base-url"`
	DatabaseDSN    string                     `yaml:"database-dsn"`
	InternalDomain string                     `yaml:"internal-domain"`
	JWT            JWTConfig                  `yaml:"jwt"`
	Redis          RedisConfig                `yaml:"redis"`
	Gong           GongConfig                 `yaml:"gong"`
	Tracker        TrackerConfig              `yaml:"tracker"`
	TierGroups     map[string]string          `yaml:"tier-groups"`
	TierLimits     map[string]TierLimitConfig `yaml:"tier-limits"`
	Database       struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file and applies environment overrides.
// A missing file is not an error as long as the environment supplies
// the required values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, errUnmarshal)
		}
	} else if !errors.Is(errRead, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", configPath, errRead)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if addr := strings.TrimSpace(os.Getenv(EnvListenAddr)); addr != "" {
		cfg.ListenAddr = addr
	}
	if key := strings.TrimSpace(os.Getenv(EnvGongKey)); key != "" {
		cfg.Gong.AccessKey = key
	}
	if secret := strings.TrimSpace(os.Getenv(EnvGongSecret)); secret != "" {
		cfg.Gong.SecretKey = secret
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		cfg.DatabaseDSN = strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.InternalDomain == "" {
		cfg.InternalDomain = "daloopa.com"
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
}
