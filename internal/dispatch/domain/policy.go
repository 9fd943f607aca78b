package dispatch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy defines retry/expiry behavior for one command type.
type Policy struct {
	TTL          time.Duration `yaml:"ttl"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	SuccessCodes []int         `yaml:"success_codes"`
}

// UnmarshalYAML decodes durations from "90s"/"24h" style strings. Absent
// fields leave the existing values untouched so overrides merge over
// defaults.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TTL          string `yaml:"ttl"`
		ReplyTimeout string `yaml:"reply_timeout"`
		MaxAttempts  int    `yaml:"max_attempts"`
		SuccessCodes []int  `yaml:"success_codes"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("dispatch: invalid ttl %q: %w", raw.TTL, err)
		}
		p.TTL = d
	}
	if raw.ReplyTimeout != "" {
		d, err := time.ParseDuration(raw.ReplyTimeout)
		if err != nil {
			return fmt.Errorf("dispatch: invalid reply_timeout %q: %w", raw.ReplyTimeout, err)
		}
		p.ReplyTimeout = d
	}
	if raw.MaxAttempts != 0 {
		p.MaxAttempts = raw.MaxAttempts
	}
	if len(raw.SuccessCodes) > 0 {
		p.SuccessCodes = raw.SuccessCodes
	}
	return nil
}

// Config defines dispatch policy: defaults plus per-command-type overrides.
// Retry counts and deadlines are operational policy, never hardcoded in the
// engine.
type Config struct {
	Defaults Policy            `yaml:"defaults"`
	Commands map[string]Policy `yaml:"commands"`
}

// DefaultConfig returns the shipped policy. REBOOT gets a single attempt:
// re-offering a reboot to a device that already executed it restarts it
// again.
func DefaultConfig() Config {
	return Config{
		Defaults: Policy{
			TTL:          24 * time.Hour,
			ReplyTimeout: 90 * time.Second,
			MaxAttempts:  3,
		},
		Commands: map[string]Policy{
			TypeReboot: {MaxAttempts: 1},
		},
	}
}

// LoadConfig loads policy from the yaml file at path, merged over defaults.
// An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Defaults.TTL <= 0 {
		return cfg, errors.New("dispatch: defaults.ttl must be positive")
	}
	if cfg.Defaults.ReplyTimeout <= 0 {
		return cfg, errors.New("dispatch: defaults.reply_timeout must be positive")
	}
	if cfg.Defaults.MaxAttempts <= 0 {
		return cfg, errors.New("dispatch: defaults.max_attempts must be positive")
	}
	return cfg, nil
}

// PolicyFor resolves the effective policy for a command type. Zero-valued
// override fields inherit the defaults.
func (c Config) PolicyFor(cmdType string) Policy {
	policy := c.Defaults
	override, ok := c.Commands[cmdType]
	if !ok {
		return policy
	}
	if override.TTL > 0 {
		policy.TTL = override.TTL
	}
	if override.ReplyTimeout > 0 {
		policy.ReplyTimeout = override.ReplyTimeout
	}
	if override.MaxAttempts > 0 {
		policy.MaxAttempts = override.MaxAttempts
	}
	if len(override.SuccessCodes) > 0 {
		policy.SuccessCodes = override.SuccessCodes
	}
	return policy
}
