package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Push    PushConfig    `mapstructure:"push"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Env string `mapstructure:"env"`
}

type APIConfig struct {
	// BaseURL is the REST root, e.g. "https://api.eduverse.io/api/v1".
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

type SyncConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PushDismissAfter time.Duration `mapstructure:"push_dismiss_after"`
}

type PushConfig struct {
	// Permission is "granted", "denied" or "default". Only "granted" shows pushes.
	Permission string `mapstructure:"permission"`
	// Sinks lists the push outputs: "log", "bridge", "kafka".
	Sinks []string `mapstructure:"sinks"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	// AllowedOrigins lists the web origins whose pages may call the bridge.
	// Empty means no cross-origin browser access.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Secret authorizes session and mutation routes. When empty, run
	// generates one and keeps it in the keyring for the CLI.
	Secret string `mapstructure:"secret"`
}

type SessionConfig struct {
	KeyringService string `mapstructure:"keyring_service"`
	KeyringDir     string `mapstructure:"keyring_dir"`
	// Token, when set, is used instead of the keyring on startup.
	Token string `mapstructure:"token"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: NOTIFYSYNC_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.env", "development")
	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.page_size", 10)
	v.SetDefault("sync.poll_interval", 5*time.Second)
	v.SetDefault("sync.push_dismiss_after", 5*time.Second)
	v.SetDefault("push.permission", "granted")
	v.SetDefault("push.sinks", []string{"log", "bridge"})
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "eduverse-pushes")
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", "8091")
	v.SetDefault("bridge.allowed_origins", []string{})
	v.SetDefault("bridge.secret", "")
	v.SetDefault("session.keyring_service", "eduverse-notifysync")
	v.SetDefault("session.keyring_dir", "~/.config/notifysync/credentials")
	v.SetDefault("session.token", "")

	// Environment variables (e.g. NOTIFYSYNC_API_BASE_URL -> api.base_url)
	v.SetEnvPrefix("NOTIFYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for container setups
	v.BindEnv("api.base_url", "API_URL")
	v.BindEnv("session.token", "EDUVERSE_TOKEN")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("bridge.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	return &cfg, nil
}

// normalize fixes values that env vars deliver in an unusable shape.
func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	c.Push.Sinks = splitList(c.Push.Sinks)
	c.Bridge.AllowedOrigins = splitList(c.Bridge.AllowedOrigins)
	for i, o := range c.Bridge.AllowedOrigins {
		c.Bridge.AllowedOrigins[i] = strings.TrimRight(o, "/")
	}
	if c.API.PageSize <= 0 || c.API.PageSize > 100 {
		c.API.PageSize = 10
	}
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = 5 * time.Second
	}
	if c.Sync.PushDismissAfter <= 0 {
		c.Sync.PushDismissAfter = 5 * time.Second
	}
}

// Addr returns the listen address of the local bridge.
func (b BridgeConfig) Addr() string {
	return b.Host + ":" + b.Port
}

// HasSink reports whether the named push sink is enabled.
func (p PushConfig) HasSink(name string) bool {
	for _, s := range p.Sinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// splitList expands comma separated entries, as delivered by a single env var.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
