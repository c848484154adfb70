// Package config loads the multisip YAML configuration.
package config

//go:generate go tool errtrace -w .

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"gopkg.in/yaml.v3"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/internal/errorutil"
	"github.com/ghettovoice/multisip/log"
)

// ErrInvalidConfig is returned for configurations that fail validation.
const ErrInvalidConfig errorutil.Error = "invalid config"

// Transports are the supported SIP transports.
var Transports = []string{"udp", "tcp", "tls", "ws", "wss"}

// Config is the multisip configuration.
type Config struct {
	Engine   EngineConfig    `yaml:"engine"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Accounts []AccountConfig `yaml:"accounts"`
	Call     *CallConfig     `yaml:"call,omitempty"`
}

// EngineConfig configures the SIP engine.
type EngineConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"`
	UserAgent      string        `yaml:"user_agent"`
	NameServer     string        `yaml:"nameserver"`
	RegisterExpiry time.Duration `yaml:"register_expiry"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AccountConfig is one SIP account.
type AccountConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain"`
}

// Identity builds the account identity.
func (a AccountConfig) Identity() (account.Identity, error) {
	return errtrace.Wrap2(account.New(a.Username, a.Password, a.Domain))
}

// CallConfig describes a call placed once the caller account is registered.
type CallConfig struct {
	// From is the index of the caller in the accounts list.
	From int `yaml:"from"`
	// To is the callee address.
	To string `yaml:"to"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Host:           "0.0.0.0",
			Port:           5060,
			Transport:      "udp",
			UserAgent:      "multisip",
			RegisterExpiry: time.Hour,
			PollInterval:   20 * time.Millisecond,
		},
		Log: LogConfig{
			Format: string(log.FormatConsole),
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the YAML file at path over [Default] and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("read config file %s: %w", path, err))
	}
	return errtrace.Wrap2(Parse(data))
}

// Parse decodes YAML data over [Default] and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("parse config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		errs = append(errs, fmt.Errorf("engine port %d out of range 0-65535", c.Engine.Port))
	}
	if !slices.Contains(Transports, strings.ToLower(c.Engine.Transport)) {
		errs = append(errs, fmt.Errorf("engine transport %q is not one of %v", c.Engine.Transport, Transports))
	}
	if c.Engine.RegisterExpiry < time.Minute {
		errs = append(errs, fmt.Errorf("register expiry %v is shorter than 1m", c.Engine.RegisterExpiry))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval %v must be positive", c.Engine.PollInterval))
	}

	switch log.Format(c.Log.Format) {
	case log.FormatConsole, log.FormatDev, log.FormatJSON, log.FormatText:
	default:
		errs = append(errs, fmt.Errorf("log format %q is unknown", c.Log.Format))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		errs = append(errs, errors.New("metrics address is empty"))
	}

	seen := make(map[string]int, len(c.Accounts))
	for i, acc := range c.Accounts {
		id, err := acc.Identity()
		if err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", i, err))
			continue
		}
		if j, ok := seen[id.Address()]; ok {
			errs = append(errs, fmt.Errorf("account %d: duplicates account %d (%s)", i, j, id.Address()))
			continue
		}
		seen[id.Address()] = i
	}

	if c.Call != nil {
		if c.Call.From < 0 || c.Call.From >= len(c.Accounts) {
			errs = append(errs, fmt.Errorf("call from index %d out of range of %d accounts", c.Call.From, len(c.Accounts)))
		}
		if _, err := account.ParseAddress(c.Call.To); err != nil {
			errs = append(errs, fmt.Errorf("call to: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, errors.Join(errs...)))
}

// Identities builds the identities of all accounts.
func (c *Config) Identities() ([]account.Identity, error) {
	ids := make([]account.Identity, 0, len(c.Accounts))
	for i, acc := range c.Accounts {
		id, err := acc.Identity()
		if err != nil {
			return nil, errtrace.Wrap(fmt.Errorf("account %d: %w", i, err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}
