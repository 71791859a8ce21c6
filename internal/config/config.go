package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is the hosted event server.
	DefaultServerURL = "https://bina.fernandojunior.com.br"

	ProfileExtension = "extension"
	ProfileDashboard = "dashboard"

	TransportStomp    = "stomp"
	TransportSocketIO = "socketio"

	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// profileDelays are the reconnect delays each deployment profile uses.
var profileDelays = map[string]time.Duration{
	ProfileExtension: 30 * time.Second,
	ProfileDashboard: 5 * time.Second,
}

type Config struct {
	// ServerURL is the base URL of the event server.
	ServerURL string
	// Transport selects the wire protocol (stomp|socketio).
	Transport string
	// UpgradePath is the WebSocket path appended to ServerURL for STOMP.
	UpgradePath string
	// Topic is the broadcast destination.
	Topic string
	// Profile picks the reconnect delay (extension|dashboard).
	Profile string
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration
	// HeartBeat is the STOMP heart-beat interval; negative disables it.
	HeartBeat time.Duration

	// Store selects the durable backend (sqlite|redis|file|memory).
	Store string
	// StorePath is the SQLite file or the file store directory.
	StorePath string
	// RedisAddr is host:port of the Redis backend.
	RedisAddr string

	// DashboardAddr is the listen address of the HTTP dashboard. Empty
	// disables it.
	DashboardAddr string
	// PortalBase links events to a customer portal by phone number.
	PortalBase string

	// PushoverToken and PushoverUser enable push notifications when both set.
	PushoverToken string
	PushoverUser  string
	// PushoverCooldown is the minimum interval between pushes per caller.
	PushoverCooldown time.Duration

	// RelayHome is the directory where the relay keeps local state.
	RelayHome string
	// File is the config file that was read, if any.
	File string

	// Debug enables verbose logging.
	Debug bool
	// LogLevel overrides the level implied by Debug.
	LogLevel string
}

// fileConfig is the YAML shape of the config file. Durations are strings
// such as "30s".
type fileConfig struct {
	ServerURL        string `yaml:"server_url"`
	Transport        string `yaml:"transport"`
	UpgradePath      string `yaml:"upgrade_path"`
	Topic            string `yaml:"topic"`
	Profile          string `yaml:"profile"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	HeartBeat        string `yaml:"heartbeat"`
	Store            string `yaml:"store"`
	StorePath        string `yaml:"store_path"`
	RedisAddr        string `yaml:"redis_addr"`
	DashboardAddr    string `yaml:"dashboard_addr"`
	PortalBase       string `yaml:"portal_base"`
	PushoverToken    string `yaml:"pushover_token"`
	PushoverUser     string `yaml:"pushover_user"`
	PushoverCooldown string `yaml:"pushover_cooldown"`
	Debug            *bool  `yaml:"debug"`
	LogLevel         string `yaml:"log_level"`
}

// Load loads configuration from defaults, the optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	relayHome := os.Getenv("RELAY_HOME")
	if relayHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		relayHome = filepath.Join(homeDir, ".relay")
	}
	if err := os.MkdirAll(relayHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create relay home: %w", err)
	}

	cfg := &Config{
		ServerURL: DefaultServerURL,
		Transport: TransportStomp,
		Profile:   ProfileExtension,
		Store:     StoreSQLite,
		RelayHome: relayHome,
	}

	path := os.Getenv("RELAY_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(relayHome, "config.yaml")
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.File = path

	setString(&c.ServerURL, fc.ServerURL)
	setString(&c.Transport, fc.Transport)
	setString(&c.UpgradePath, fc.UpgradePath)
	setString(&c.Topic, fc.Topic)
	setString(&c.Profile, fc.Profile)
	setString(&c.Store, fc.Store)
	setString(&c.StorePath, fc.StorePath)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.DashboardAddr, fc.DashboardAddr)
	setString(&c.PortalBase, fc.PortalBase)
	setString(&c.PushoverToken, fc.PushoverToken)
	setString(&c.PushoverUser, fc.PushoverUser)
	setString(&c.LogLevel, fc.LogLevel)
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reconnect_delay", fc.ReconnectDelay, &c.ReconnectDelay},
		{"heartbeat", fc.HeartBeat, &c.HeartBeat},
		{"pushover_cooldown", fc.PushoverCooldown, &c.PushoverCooldown},
	} {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("config %s: invalid %s: %w", path, d.name, err)
		}
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.ServerURL, getenvFirst("RELAY_SERVER_URL", "BINA_SERVER_URL"))
	setString(&c.Transport, os.Getenv("RELAY_TRANSPORT"))
	setString(&c.UpgradePath, os.Getenv("RELAY_UPGRADE_PATH"))
	setString(&c.Topic, os.Getenv("RELAY_TOPIC"))
	setString(&c.Profile, os.Getenv("RELAY_PROFILE"))
	setString(&c.Store, os.Getenv("RELAY_STORE"))
	setString(&c.StorePath, os.Getenv("RELAY_STORE_PATH"))
	setString(&c.RedisAddr, os.Getenv("RELAY_REDIS_ADDR"))
	setString(&c.DashboardAddr, os.Getenv("RELAY_DASHBOARD_ADDR"))
	setString(&c.PortalBase, os.Getenv("RELAY_PORTAL_BASE"))
	setString(&c.PushoverToken, getenvFirst("RELAY_PUSHOVER_TOKEN", "PUSHOVER_TOKEN"))
	setString(&c.PushoverUser, getenvFirst("RELAY_PUSHOVER_USER", "PUSHOVER_USER"))
	setString(&c.LogLevel, os.Getenv("RELAY_LOG_LEVEL"))

	if isTrue(os.Getenv("DEBUG")) || isTrue(os.Getenv("RELAY_DEBUG")) {
		c.Debug = true
	}

	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"RELAY_RECONNECT_DELAY", &c.ReconnectDelay},
		{"RELAY_HEARTBEAT", &c.HeartBeat},
		{"RELAY_PUSHOVER_COOLDOWN", &c.PushoverCooldown},
	} {
		if err := setDuration(d.dst, os.Getenv(d.name)); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	return nil
}

// finish validates enums and fills values derived from others.
func (c *Config) finish() error {
	c.Transport = strings.ToLower(c.Transport)
	c.Profile = strings.ToLower(c.Profile)
	c.Store = strings.ToLower(c.Store)

	switch c.Transport {
	case TransportStomp, TransportSocketIO:
	default:
		return fmt.Errorf("invalid transport %q (expected stomp or socketio)", c.Transport)
	}
	if _, ok := profileDelays[c.Profile]; !ok {
		return fmt.Errorf("invalid profile %q (expected extension or dashboard)", c.Profile)
	}
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreFile, StoreMemory:
	default:
		return fmt.Errorf("invalid store %q (expected sqlite, redis, file or memory)", c.Store)
	}
	if c.Store == StoreRedis && c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.StorePath == "" {
		switch c.Store {
		case StoreSQLite:
			c.StorePath = filepath.Join(c.RelayHome, "relay.db")
		case StoreFile:
			c.StorePath = filepath.Join(c.RelayHome, "state")
		}
	}

	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delay must be non-negative")
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = profileDelays[c.Profile]
	}
	if c.PushoverCooldown < 0 {
		return fmt.Errorf("pushover cooldown must be non-negative")
	}
	return nil
}

// PushoverEnabled reports whether both Pushover credentials are set.
func (c *Config) PushoverEnabled() bool {
	return c.PushoverToken != "" && c.PushoverUser != ""
}

// ProfileDelay returns the reconnect delay of a profile, or zero if unknown.
func ProfileDelay(profile string) time.Duration {
	return profileDelays[strings.ToLower(profile)]
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// setDuration accepts Go durations ("30s") or bare seconds ("30").
func setDuration(dst *time.Duration, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}
