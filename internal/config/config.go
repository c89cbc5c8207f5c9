package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/TechSanzo/chaturbate/pkg/bus"
	pkgconfig "github.com/TechSanzo/chaturbate/pkg/config"
	"github.com/TechSanzo/chaturbate/pkg/database"
)

type Config struct {
	Server     ServerConfig
	Database   database.Config
	Bus        bus.Config
	Auth       AuthConfig
	Credits    CreditsConfig
	Subscriber SubscriberConfig
	Presence   PresenceConfig
	Show       ShowConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	TokenDuration time.Duration `mapstructure:"token_duration"`
	Issuer        string
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type CreditsConfig struct {
	InitialViewer      int64 `mapstructure:"initial_viewer"`
	InitialBroadcaster int64 `mapstructure:"initial_broadcaster"`
}

type SubscriberConfig struct {
	MaxEventsPerSecond int           `mapstructure:"max_events_per_second"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
	ReconnectBackoff   time.Duration `mapstructure:"reconnect_backoff"`
}

type PresenceConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ShowConfig struct {
	AccrualInterval time.Duration `mapstructure:"accrual_interval"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "chaturbate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("bus.driver", "redis")
	v.SetDefault("bus.redis.address", "localhost:6379")
	v.SetDefault("auth.token_duration", "24h")
	v.SetDefault("auth.issuer", "chaturbate")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("credits.initial_viewer", 100)
	v.SetDefault("credits.initial_broadcaster", 0)
	v.SetDefault("subscriber.max_events_per_second", 10)
	v.SetDefault("subscriber.max_reconnects", 5)
	v.SetDefault("subscriber.reconnect_backoff", "500ms")
	v.SetDefault("presence.ttl", "30s")
	v.SetDefault("presence.sweep_interval", "15s")
	v.SetDefault("show.accrual_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("bus.driver", "BUS_DRIVER")
	v.BindEnv("bus.redis.address", "REDIS_ADDRESS")
	v.BindEnv("bus.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("auth.token_duration", "AUTH_TOKEN_DURATION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations from strings
	cfg.Auth.TokenDuration = parseDuration(v, "auth.token_duration", 24*time.Hour)
	cfg.Auth.TokenTTL = parseDuration(v, "auth.token_ttl", 168*time.Hour)
	cfg.Subscriber.ReconnectBackoff = parseDuration(v, "subscriber.reconnect_backoff", 500*time.Millisecond)
	cfg.Presence.TTL = parseDuration(v, "presence.ttl", 30*time.Second)
	cfg.Presence.SweepInterval = parseDuration(v, "presence.sweep_interval", 15*time.Second)
	cfg.Show.AccrualInterval = parseDuration(v, "show.accrual_interval", time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
