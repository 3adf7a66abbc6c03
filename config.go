package callbackd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable explicitly. Nothing in this package reads
// environment variables: the seed, rotation policy, and lockout policy are
// constructor inputs so two processes can be configured against each other
// deliberately rather than by ambient state.
type Config struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`

	// APIKey authenticates agent registrations. Empty means the daemon
	// generates one at startup and logs it once.
	APIKey string `yaml:"api_key"`

	// Seed is the shared secret both parties derive rotation keys from,
	// provisioned out-of-band. A seed or rotation mismatch between parties
	// silently produces undecryptable payloads.
	Seed          string `yaml:"seed"`
	RotationHours int    `yaml:"rotation_hours"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	KeyLength     int    `yaml:"key_length"`
	WindowDepth   int    `yaml:"window_depth"`

	LockoutThreshold int `yaml:"lockout_threshold"`
	LockoutMinutes   int `yaml:"lockout_minutes"`
	SessionTTLSecs   int `yaml:"session_ttl_seconds"`

	LoginRatePerSec    float64 `yaml:"login_rate_per_sec"`
	LoginBurst         int     `yaml:"login_burst"`
	RegisterRatePerSec float64 `yaml:"register_rate_per_sec"`
	RegisterBurst      int     `yaml:"register_burst"`

	// AdminUser/AdminPassword, when both set, seed an administrative
	// credential at startup if one does not exist yet.
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// DefaultConfig returns the defaults every unset field falls back to.
func DefaultConfig() Config {
	return Config{
		Listen:             "0.0.0.0:5000",
		DBPath:             "callbackd.db",
		RotationHours:      DefaultRotationHours,
		HashAlgorithm:      string(AlgoSHA256),
		KeyLength:          DefaultKeyLength,
		WindowDepth:        DefaultWindowDepth,
		LockoutThreshold:   DefaultLockoutThreshold,
		LockoutMinutes:     30,
		SessionTTLSecs:     3600,
		LoginRatePerSec:    1,
		LoginBurst:         5,
		RegisterRatePerSec: 5,
		RegisterBurst:      20,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave silently.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.RotationHours <= 0 {
		return fmt.Errorf("config: rotation_hours must be positive, got %d", c.RotationHours)
	}
	if c.KeyLength <= 0 {
		return fmt.Errorf("config: key_length must be positive, got %d", c.KeyLength)
	}
	if c.WindowDepth <= 0 {
		return fmt.Errorf("config: window_depth must be positive, got %d", c.WindowDepth)
	}
	if c.LockoutThreshold <= 0 {
		return fmt.Errorf("config: lockout_threshold must be positive, got %d", c.LockoutThreshold)
	}
	if c.LockoutMinutes <= 0 {
		return fmt.Errorf("config: lockout_minutes must be positive, got %d", c.LockoutMinutes)
	}
	if c.SessionTTLSecs <= 0 {
		return fmt.Errorf("config: session_ttl_seconds must be positive, got %d", c.SessionTTLSecs)
	}
	return nil
}

// LockoutDuration converts the configured minutes.
func (c Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

// SessionTTL converts the configured seconds.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSecs) * time.Second
}

// Cipher builds the rotating cipher this configuration describes, or nil
// when no seed is configured (encrypted payloads unsupported).
func (c Config) Cipher() *RotatingCipher {
	if c.Seed == "" {
		return nil
	}
	cipher := NewRotatingCipher(c.Seed, c.RotationHours, ParseAlgorithm(c.HashAlgorithm))
	cipher.KeyLength = c.KeyLength
	cipher.WindowDepth = c.WindowDepth
	cipher.Validate = JSONValidator
	return cipher
}
