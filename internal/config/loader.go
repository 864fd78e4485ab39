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

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GMIC"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
}

// NewLoader creates a new configuration loader. It reads ./.env when
// present.
func NewLoader() *Loader {
	return &Loader{
		v:        viper.New(),
		envFiles: []string{".env"},
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFiles replaces the dotenv files read before the environment.
func (l *Loader) SetEnvFiles(paths ...string) {
	l.envFiles = paths
}

// Load loads configuration with proper precedence:
// defaults < config file < .env < env vars < explicit Set calls
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles exports variables from dotenv files. Variables already in
// the environment win.
func (l *Loader) loadEnvFiles() error {
	for _, path := range l.envFiles {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "gmic"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "gmic"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees env vars for nested keys that are bound.
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("account.self", cfg.Account.Self)
	v.SetDefault("account.chain_id", cfg.Account.ChainID)

	v.SetDefault("feed.endpoint", cfg.Feed.Endpoint)
	v.SetDefault("feed.timeout", cfg.Feed.Timeout)

	v.SetDefault("notify.transport", cfg.Notify.Transport)
	v.SetDefault("notify.websocket_url", cfg.Notify.WebSocketURL)
	v.SetDefault("notify.mqtt.broker", cfg.Notify.MQTT.Broker)
	v.SetDefault("notify.mqtt.client_id", cfg.Notify.MQTT.ClientID)
	v.SetDefault("notify.mqtt.username", cfg.Notify.MQTT.Username)
	v.SetDefault("notify.mqtt.password", cfg.Notify.MQTT.Password)
	v.SetDefault("notify.mqtt.topic_prefix", cfg.Notify.MQTT.TopicPrefix)
	v.SetDefault("notify.mqtt.qos", cfg.Notify.MQTT.QoS)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.url", cfg.Store.URL)
	v.SetDefault("store.prefix", cfg.Store.Prefix)

	v.SetDefault("reconcile.backfill_threshold", cfg.Reconcile.BackfillThreshold)
	v.SetDefault("reconcile.max_events", cfg.Reconcile.MaxEvents)
	v.SetDefault("reconcile.identity_capacity", cfg.Reconcile.IdentityCapacity)

	v.SetDefault("refresh.min_interval", cfg.Refresh.MinInterval)
	v.SetDefault("refresh.poll_interval", cfg.Refresh.PollInterval)
	v.SetDefault("refresh.retry_base", cfg.Refresh.RetryBase)
	v.SetDefault("refresh.max_retries", cfg.Refresh.MaxRetries)
	v.SetDefault("refresh.concurrency", cfg.Refresh.Concurrency)

	v.SetDefault("cooldown.window", cfg.Cooldown.Window)
	v.SetDefault("cooldown.tick", cfg.Cooldown.Tick)

	v.SetDefault("signals.banner_ttl", cfg.Signals.BannerTTL)
	v.SetDefault("signals.marker_ttl", cfg.Signals.MarkerTTL)
	v.SetDefault("signals.max_markers", cfg.Signals.MaxMarkers)

	v.SetDefault("contacts.app_address", cfg.Contacts.AppAddress)
	v.SetDefault("contacts.app_name", cfg.Contacts.AppName)
}

// loadConfigFile reads the config file. A missing file is only an error
// when it was named explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Get returns a Viper value by key.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set overrides a key; it wins over every other source.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// envKeys lists every key that accepts a GMIC_* override.
var envKeys = []string{
	"global.data_dir",
	"global.config_dir",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"account.self",
	"account.chain_id",
	"feed.endpoint",
	"feed.timeout",
	"notify.transport",
	"notify.websocket_url",
	"notify.mqtt.broker",
	"notify.mqtt.client_id",
	"notify.mqtt.username",
	"notify.mqtt.password",
	"notify.mqtt.topic_prefix",
	"notify.mqtt.qos",
	"store.backend",
	"store.path",
	"store.url",
	"store.prefix",
	"reconcile.backfill_threshold",
	"reconcile.max_events",
	"reconcile.identity_capacity",
	"refresh.min_interval",
	"refresh.poll_interval",
	"refresh.retry_base",
	"refresh.max_retries",
	"refresh.concurrency",
	"cooldown.window",
	"cooldown.tick",
	"signals.banner_ttl",
	"signals.marker_ttl",
	"signals.max_markers",
	"contacts.app_address",
	"contacts.app_name",
}

// EnvVar returns the environment variable for a config key:
// notify.mqtt.broker -> GMIC_NOTIFY_MQTT_BROKER.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key, EnvVar(key))
	}
}
