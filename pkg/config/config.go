// Package config provides YAML-based configuration loading for a homerun peer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the peer process
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Identity controls the local identity and entitlement check.
	Identity IdentityConfig `mapstructure:"identity"`

	// Transports used to find and talk to the remote peer
	Transports []TransportConfig `mapstructure:"transports"`

	// Net holds link tuning options
	Net NetConfig `mapstructure:"net"`

	// Match holds simulation loop and lifecycle options
	Match MatchConfig `mapstructure:"match"`

	// Admin configures the optional HTTP control surface
	Admin AdminConfig `mapstructure:"admin"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AdminConfig controls the admin HTTP listener. Empty Listen disables it.
type AdminConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "homerun-peer",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/homerun.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Identity: IdentityConfig{Alg: "ed25519"},
		Transports: []TransportConfig{
			{
				Kind:   "tcp",
				Listen: []string{":7777"},
			},
		},
		Net: NetConfig{
			DialBackoffInitialMS: 500,
			DialBackoffMaxMS:     5000,
			DialBackoffJitterMS:  100,
			InboxCapacity:        256,
			OutboxCapacity:       256,
			PoseRateBytes:        16 * 1024,
			BodyFormat:           "cbor",
		},
		Match: MatchConfig{
			SimHz:        72,
			PeerWaitMS:   15000,
			PoseHz:       30,
			OutOfBoundsM: 150,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix HOMERUN and `.`/`-` are replaced with `_`.
// A .env file in the working directory is applied first; variables already
// present in the environment win.
// Example: HOMERUN_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOMERUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("identity.alg", cfg.Identity.Alg)
	v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
	v.SetDefault("identity.display_name", cfg.Identity.DisplayName)
	v.SetDefault("identity.entitlement_token", cfg.Identity.EntitlementToken)
	v.SetDefault("identity.entitlement_public_key", cfg.Identity.EntitlementPublicKey)
	v.SetDefault("identity.require_entitlement", cfg.Identity.RequireEntitlement)
	v.SetDefault("transports", cfg.Transports)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
	v.SetDefault("net.inbox_capacity", cfg.Net.InboxCapacity)
	v.SetDefault("net.outbox_capacity", cfg.Net.OutboxCapacity)
	v.SetDefault("net.pose_rate_bytes", cfg.Net.PoseRateBytes)
	v.SetDefault("net.body_format", cfg.Net.BodyFormat)
	v.SetDefault("match.sim_hz", cfg.Match.SimHz)
	v.SetDefault("match.peer_wait_ms", cfg.Match.PeerWaitMS)
	v.SetDefault("match.pose_hz", cfg.Match.PoseHz)
	v.SetDefault("match.out_of_bounds_m", cfg.Match.OutOfBoundsM)
	v.SetDefault("admin.listen", cfg.Admin.Listen)

	if path == "" {
		if envPath := os.Getenv("HOMERUN_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("homerun")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".homerun"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if err := c.Identity.validate(); err != nil {
		return err
	}
	for i := range c.Transports {
		c.Transports[i].Kind = strings.ToLower(strings.TrimSpace(c.Transports[i].Kind))
		if c.Transports[i].Kind == "" {
			return fmt.Errorf("transports[%d]: kind is required", i)
		}
	}
	c.Net.normalize()
	return c.Match.validate()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
