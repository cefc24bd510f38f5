// Package config loads application configuration from environment variables.
package config

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "MASTOBRIDGE_"

// Sync controls the poll loop and the remote session layer.
type Sync struct {
	PollDelay      time.Duration `env:"POLL_DELAY, default=30s"`
	MinSleep       time.Duration `env:"MIN_SLEEP, default=2s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT, default=15s"`
	AccountTimeout time.Duration `env:"ACCOUNT_TIMEOUT, default=2m"`
	InstanceRate   float64       `env:"INSTANCE_RATE, default=1"`
}

// Limits caps how many accounts can be linked. Negative means unlimited.
type Limits struct {
	MaxAccounts            int `env:"MAX_ACCOUNTS, default=-1"`
	MaxAccountsPerInstance int `env:"MAX_ACCOUNTS_PER_INSTANCE, default=-1"`
}

// Matrix holds the credentials of the bridge's own chat account.
type Matrix struct {
	Homeserver  string `env:"HOMESERVER"`
	UserID      string `env:"USER_ID"`
	AccessToken string `env:"ACCESS_TOKEN"`
}

// Config holds the application configuration.
type Config struct {
	DBPath        string `env:"DB_PATH, default=mastobridge.db"`
	ListenAddr    string `env:"LISTEN_ADDR, default=127.0.0.1:8080"`
	LogLevel      string `env:"LOG_LEVEL, default=info"`
	CmdPrefix     string `env:"CMD_PREFIX"`
	AppName       string `env:"APP_NAME, default=Matrix Bridge"`
	Website       string `env:"WEBSITE"`
	BlocklistFile string `env:"BLOCKLIST_FILE"`
	AvatarPath    string `env:"AVATAR_PATH"`
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg"`

	// SecretKey encrypts stored access tokens and client secrets: 32 bytes
	// as hex or base64. Empty stores them in plaintext.
	SecretKey string `env:"SECRET_KEY"`

	// HealthStaleAfter is how old the last finished cycle may be before
	// the health endpoint reports unhealthy. Zero disables the check.
	HealthStaleAfter time.Duration `env:"HEALTH_STALE_AFTER, default=15m"`

	Sync   Sync
	Limits Limits
	Matrix Matrix `env:", prefix=MATRIX_"`
}

// Load reads MASTOBRIDGE_* variables from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through the given lookuper and validates it.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	})
	if err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Sync.PollDelay <= 0 {
		errs = append(errs, fmt.Errorf("%sPOLL_DELAY must be positive, got %s", EnvPrefix, c.Sync.PollDelay))
	}
	if c.Sync.MinSleep <= 0 {
		errs = append(errs, fmt.Errorf("%sMIN_SLEEP must be positive, got %s", EnvPrefix, c.Sync.MinSleep))
	}
	if c.Sync.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sREQUEST_TIMEOUT must be positive, got %s", EnvPrefix, c.Sync.RequestTimeout))
	}
	if c.Sync.AccountTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sACCOUNT_TIMEOUT must be positive, got %s", EnvPrefix, c.Sync.AccountTimeout))
	}
	if c.Sync.InstanceRate <= 0 {
		errs = append(errs, fmt.Errorf("%sINSTANCE_RATE must be positive, got %v", EnvPrefix, c.Sync.InstanceRate))
	}
	if c.HealthStaleAfter < 0 {
		errs = append(errs, fmt.Errorf("%sHEALTH_STALE_AFTER must not be negative, got %s", EnvPrefix, c.HealthStaleAfter))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SecretKeyBytes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateMatrix reports missing chat credentials. Only the run command
// needs them.
func (c *Config) ValidateMatrix() error {
	var missing []string
	if c.Matrix.Homeserver == "" {
		missing = append(missing, EnvPrefix+"MATRIX_HOMESERVER")
	}
	if c.Matrix.UserID == "" {
		missing = append(missing, EnvPrefix+"MATRIX_USER_ID")
	}
	if c.Matrix.AccessToken == "" {
		missing = append(missing, EnvPrefix+"MATRIX_ACCESS_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%sLOG_LEVEL has unknown level %q", EnvPrefix, c.LogLevel)
}

// SecretKeyBytes decodes SecretKey. It returns nil when no key is set.
func (c *Config) SecretKeyBytes() ([]byte, error) {
	if c.SecretKey == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(c.SecretKey); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(c.SecretKey); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, fmt.Errorf("%sSECRET_KEY must be 32 bytes encoded as hex or base64", EnvPrefix)
}
