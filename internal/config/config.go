// Package config handles gmic configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tOgg1/gmic/internal/conversation"
	"github.com/tOgg1/gmic/internal/cooldown"
	"github.com/tOgg1/gmic/internal/dedup"
	"github.com/tOgg1/gmic/internal/kv"
	"github.com/tOgg1/gmic/internal/logging"
	"github.com/tOgg1/gmic/internal/models"
	"github.com/tOgg1/gmic/internal/session"
	"github.com/tOgg1/gmic/internal/signals"
)

// Notification transports.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
	TransportNone      = "none"
)

// Config is the root configuration structure for gmic.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Account   AccountConfig   `yaml:"account" mapstructure:"account"`
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
	Cooldown  CooldownConfig  `yaml:"cooldown" mapstructure:"cooldown"`
	Signals   SignalsConfig   `yaml:"signals" mapstructure:"signals"`
	Contacts  ContactsConfig  `yaml:"contacts" mapstructure:"contacts"`
}

// GlobalConfig contains directory settings.
type GlobalConfig struct {
	// DataDir is where gmic stores its data (default: ~/.local/share/gmic).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/gmic).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// AccountConfig selects the account and chain to follow.
type AccountConfig struct {
	// Self is the connected address. The CLI context fills it when empty.
	Self string `yaml:"self" mapstructure:"self"`

	// ChainID is the application chain to read.
	ChainID string `yaml:"chain_id" mapstructure:"chain_id"`
}

// FeedConfig points at the GraphQL event service.
type FeedConfig struct {
	// Endpoint is the GraphQL HTTP endpoint.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Timeout bounds a single feed query.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// NotifyConfig selects how change notifications arrive.
type NotifyConfig struct {
	// Transport is websocket, mqtt or none.
	Transport string `yaml:"transport" mapstructure:"transport"`

	// WebSocketURL is the graphql-transport-ws endpoint.
	WebSocketURL string `yaml:"websocket_url" mapstructure:"websocket_url"`

	MQTT MQTTConfig `yaml:"mqtt" mapstructure:"mqtt"`
}

// MQTTConfig configures the MQTT notification bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	QoS         int    `yaml:"qos" mapstructure:"qos"`
}

// StoreConfig selects the preference store.
type StoreConfig struct {
	// Backend is memory, sqlite or redis.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Path is the sqlite file (default: DataDir/prefs.db).
	Path string `yaml:"path" mapstructure:"path"`

	// URL is the redis URL.
	URL string `yaml:"url" mapstructure:"url"`

	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// ReconcileConfig bounds reconciliation state.
type ReconcileConfig struct {
	BackfillThreshold int `yaml:"backfill_threshold" mapstructure:"backfill_threshold"`
	MaxEvents         int `yaml:"max_events" mapstructure:"max_events"`
	IdentityCapacity  int `yaml:"identity_capacity" mapstructure:"identity_capacity"`
}

// RefreshConfig tunes polling and retries.
type RefreshConfig struct {
	MinInterval  time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	RetryBase    time.Duration `yaml:"retry_base" mapstructure:"retry_base"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// CooldownConfig tunes the send cooldown.
type CooldownConfig struct {
	Window time.Duration `yaml:"window" mapstructure:"window"`
	Tick   time.Duration `yaml:"tick" mapstructure:"tick"`
}

// SignalsConfig tunes banners and markers.
type SignalsConfig struct {
	BannerTTL  time.Duration `yaml:"banner_ttl" mapstructure:"banner_ttl"`
	MarkerTTL  time.Duration `yaml:"marker_ttl" mapstructure:"marker_ttl"`
	MaxMarkers int           `yaml:"max_markers" mapstructure:"max_markers"`
}

// ContactsConfig seeds contact resolution.
type ContactsConfig struct {
	// AppAddress is the application contract address shown as a bot.
	AppAddress string `yaml:"app_address" mapstructure:"app_address"`

	// AppName labels AppAddress.
	AppName string `yaml:"app_name" mapstructure:"app_name"`

	// AddressBook maps addresses to known profiles.
	AddressBook map[string]models.Profile `yaml:"address_book" mapstructure:"address_book"`

	// Pinned is used until the preference store holds a pinned list.
	Pinned []string `yaml:"pinned" mapstructure:"pinned"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "gmic"),
			ConfigDir: filepath.Join(homeDir, ".config", "gmic"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatAuto,
		},
		Feed: FeedConfig{
			Endpoint: "http://localhost:8080/graphql",
			Timeout:  session.DefaultQueryTimeout,
		},
		Notify: NotifyConfig{
			Transport:    TransportWebSocket,
			WebSocketURL: "ws://localhost:8080/ws",
			MQTT: MQTTConfig{
				TopicPrefix: "gmic",
				QoS:         1,
			},
		},
		Store: StoreConfig{
			Backend: kv.BackendSQLite,
			Prefix:  kv.DefaultRedisPrefix,
		},
		Reconcile: ReconcileConfig{
			BackfillThreshold: session.DefaultBackfillThreshold,
			MaxEvents:         session.DefaultMaxEvents,
			IdentityCapacity:  dedup.DefaultCapacity,
		},
		Refresh: RefreshConfig{
			MinInterval:  session.DefaultMinInterval,
			PollInterval: session.DefaultPollInterval,
			RetryBase:    session.DefaultRetryBase,
			MaxRetries:   session.DefaultMaxRetries,
			Concurrency:  session.DefaultConcurrency,
		},
		Cooldown: CooldownConfig{
			Window: cooldown.DefaultWindow,
			Tick:   cooldown.DefaultTick,
		},
		Signals: SignalsConfig{
			BannerTTL: signals.DefaultBannerTTL,
			MarkerTTL: signals.DefaultMarkerTTL,
		},
		Contacts: ContactsConfig{
			AppName: "GMIC",
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs models.FieldErrors

	if !logging.ValidLevel(c.Logging.Level) {
		errs.Addf("logging.level", "unknown level %q", c.Logging.Level)
	}
	if !slices.Contains([]string{logging.FormatAuto, logging.FormatConsole, logging.FormatJSON}, strings.ToLower(c.Logging.Format)) {
		errs.Addf("logging.format", "must be one of auto, console, json")
	}

	if c.Feed.Endpoint == "" {
		errs.Addf("feed.endpoint", "is required")
	}
	positive(&errs, "feed.timeout", c.Feed.Timeout)

	switch strings.ToLower(c.Notify.Transport) {
	case TransportWebSocket:
		if c.Notify.WebSocketURL == "" {
			errs.Addf("notify.websocket_url", "is required for the websocket transport")
		}
	case TransportMQTT:
		if c.Notify.MQTT.Broker == "" {
			errs.Addf("notify.mqtt.broker", "is required for the mqtt transport")
		}
		if c.Notify.MQTT.QoS < 0 || c.Notify.MQTT.QoS > 2 {
			errs.Addf("notify.mqtt.qos", "must be 0, 1 or 2")
		}
	case TransportNone, "":
	default:
		errs.Addf("notify.transport", "must be one of websocket, mqtt, none")
	}

	switch strings.ToLower(c.Store.Backend) {
	case kv.BackendMemory, kv.BackendSQLite, "":
	case kv.BackendRedis:
		if c.Store.URL == "" {
			errs.Addf("store.url", "is required for the redis backend")
		}
	default:
		errs.Addf("store.backend", "must be one of memory, sqlite, redis")
	}

	if c.Reconcile.BackfillThreshold < 0 {
		errs.Addf("reconcile.backfill_threshold", "must not be negative")
	}
	if c.Reconcile.MaxEvents < 1 {
		errs.Addf("reconcile.max_events", "must be at least 1")
	}
	if c.Reconcile.IdentityCapacity < 1 {
		errs.Addf("reconcile.identity_capacity", "must be at least 1")
	}

	positive(&errs, "refresh.min_interval", c.Refresh.MinInterval)
	positive(&errs, "refresh.poll_interval", c.Refresh.PollInterval)
	positive(&errs, "refresh.retry_base", c.Refresh.RetryBase)
	if c.Refresh.MaxRetries < 1 {
		errs.Addf("refresh.max_retries", "must be at least 1")
	}
	if c.Refresh.Concurrency < 1 {
		errs.Addf("refresh.concurrency", "must be at least 1")
	}

	positive(&errs, "cooldown.window", c.Cooldown.Window)
	positive(&errs, "cooldown.tick", c.Cooldown.Tick)
	positive(&errs, "signals.banner_ttl", c.Signals.BannerTTL)
	positive(&errs, "signals.marker_ttl", c.Signals.MarkerTTL)
	if c.Signals.MaxMarkers < 0 {
		errs.Addf("signals.max_markers", "must not be negative")
	}

	return errs.Err()
}

func positive(errs *models.FieldErrors, field string, d time.Duration) {
	if d <= 0 {
		errs.Addf(field, "must be a positive duration, got %s", d)
	}
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the sqlite preference file.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Global.DataDir, "prefs.db")
}

// LogConfig converts to the logging package's form.
func (c *Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.File = c.Logging.File
	cfg.EnableCaller = c.Logging.EnableCaller
	return cfg
}

// StoreOptions converts to kv.Options.
func (c *Config) StoreOptions() kv.Options {
	return kv.Options{
		Backend: c.Store.Backend,
		Path:    c.StorePath(),
		URL:     c.Store.URL,
		Prefix:  c.Store.Prefix,
	}
}

// AddressBook builds the contact resolver's address book.
func (c *Config) AddressBook() conversation.AddressBook {
	return conversation.NewAddressBook(c.Contacts.AddressBook, c.Contacts.AppAddress, c.Contacts.AppName)
}

// SessionOptions fills everything a session needs from configuration.
// Sources, notifier, preferences and clock are left to the caller.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Self:              c.Account.Self,
		ChainID:           c.Account.ChainID,
		Pinned:            c.Contacts.Pinned,
		BackfillThreshold: c.Reconcile.BackfillThreshold,
		MaxEvents:         c.Reconcile.MaxEvents,
		IdentityCapacity:  c.Reconcile.IdentityCapacity,
		Refresh: session.RefreshOptions{
			MinInterval:  c.Refresh.MinInterval,
			PollInterval: c.Refresh.PollInterval,
			RetryBase:    c.Refresh.RetryBase,
			MaxRetries:   c.Refresh.MaxRetries,
			Concurrency:  c.Refresh.Concurrency,
			QueryTimeout: c.Feed.Timeout,
		},
		CooldownWindow: c.Cooldown.Window,
		CooldownTick:   c.Cooldown.Tick,
		BannerTTL:      c.Signals.BannerTTL,
		MarkerTTL:      c.Signals.MarkerTTL,
		MaxMarkers:     c.Signals.MaxMarkers,
	}
}
