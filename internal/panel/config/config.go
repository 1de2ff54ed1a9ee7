// Package config loads the panel configuration from a YAML file, with
// environment variables overriding the connection settings so secrets can
// stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements custom unmarshaling from the string form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected a duration string, got %s", value.Tag)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the wrapped standard duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// SwitchConfig holds the manager link settings.
type SwitchConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
	// ChannelTech is the channel technology prefix used when building
	// channel names from extension numbers.
	ChannelTech  string   `yaml:"channel_tech"`
	PingInterval Duration `yaml:"ping_interval"`
	BackoffMin   Duration `yaml:"backoff_min"`
	BackoffMax   Duration `yaml:"backoff_max"`
}

// ExtensionEntry is one line in the static extension directory.
type ExtensionEntry struct {
	Number string `yaml:"number"`
	Name   string `yaml:"name"`
}

// DirectoryConfig selects where the monitored extension set comes from:
// a database when DSN is set, the inline list otherwise.
type DirectoryConfig struct {
	DSN        string           `yaml:"dsn"`
	Extensions []ExtensionEntry `yaml:"extensions"`
}

// Operator describes one panel account.
type Operator struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
	Role  string `yaml:"role"`
	// Extension is the operator's own line.
	Extension string `yaml:"extension"`
	// Extensions and Queues bound what a supervisor sees.
	Extensions []string `yaml:"extensions"`
	Queues     []string `yaml:"queues"`
	// Actions lists the switch actions the operator may request.
	Actions []string `yaml:"actions"`
}

// SessionConfig holds the subscriber fan-out settings.
type SessionConfig struct {
	QueueSize int `yaml:"queue_size"`
	// OwnExtensionVisible includes a supervisor's own line in their view.
	// Defaults to true.
	OwnExtensionVisible *bool `yaml:"own_extension_visible"`
}

// Config is the panel configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	LogLevel   string          `yaml:"log_level"`
	Switch     SwitchConfig    `yaml:"switch"`
	Directory  DirectoryConfig `yaml:"directory"`
	Session    SessionConfig   `yaml:"session"`
	Operators  []Operator      `yaml:"operators"`
}

// Load reads, overrides and validates the configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployment environments override connection settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPDESK_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("OPDESK_LOGLEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OPDESK_SWITCH_ADDR"); v != "" {
		c.Switch.Addr = v
	}
	if v := os.Getenv("OPDESK_SWITCH_USERNAME"); v != "" {
		c.Switch.Username = v
	}
	if v := os.Getenv("OPDESK_SWITCH_SECRET"); v != "" {
		c.Switch.Secret = v
	}
	if v := os.Getenv("OPDESK_DB_DSN"); v != "" {
		c.Directory.DSN = v
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Switch.ChannelTech == "" {
		c.Switch.ChannelTech = "PJSIP"
	}
	if c.Switch.PingInterval <= 0 {
		c.Switch.PingInterval = Duration(30 * time.Second)
	}
	if c.Switch.BackoffMin <= 0 {
		c.Switch.BackoffMin = Duration(time.Second)
	}
	if c.Switch.BackoffMax <= 0 {
		c.Switch.BackoffMax = Duration(30 * time.Second)
	}
	if c.Session.QueueSize <= 0 {
		c.Session.QueueSize = 64
	}
	if c.Session.OwnExtensionVisible == nil {
		visible := true
		c.Session.OwnExtensionVisible = &visible
	}
}

func (c *Config) validate() error {
	if c.Switch.Addr == "" {
		return fmt.Errorf("switch.addr is required")
	}
	if c.Switch.Username == "" || c.Switch.Secret == "" {
		return fmt.Errorf("switch.username and switch.secret are required")
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("at least one operator is required")
	}

	tokens := make(map[string]string, len(c.Operators))
	for i, op := range c.Operators {
		if op.Name == "" {
			return fmt.Errorf("operators[%d]: name is required", i)
		}
		if op.Token == "" {
			return fmt.Errorf("operator %s: token is required", op.Name)
		}
		if op.Role != "admin" && op.Role != "supervisor" {
			return fmt.Errorf("operator %s: unknown role %q", op.Name, op.Role)
		}
		if other, dup := tokens[op.Token]; dup {
			return fmt.Errorf("operators %s and %s share a token", other, op.Name)
		}
		tokens[op.Token] = op.Name
	}
	return nil
}
