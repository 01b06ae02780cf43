// Package config loads the courier TOML configuration with explicit
// defaults and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "courier"
	DefaultPGSSLMode    = "disable"
	DefaultDedupeTTL    = "10m"
	DefaultSweepCron    = "@every 5m"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "COURIER_CONFIG"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Dedupe   DedupeConfig   `toml:"dedupe"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// ExpiresInDuration parses the configured token lifespan.
func (c AuthConfig) ExpiresInDuration() (time.Duration, error) {
	return time.ParseDuration(c.JWTExpiresIn)
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `toml:"backend" validate:"oneof=memory postgres"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN builds the connection string for pgx and golang-migrate.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type DedupeConfig struct {
	TTL       string `toml:"ttl"`
	SweepCron string `toml:"sweep_cron"`
}

// TTLDuration parses the configured dedupe TTL.
func (c DedupeConfig) TTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.TTL)
}

// ChannelsConfig carries per-platform credentials. An empty credential set
// leaves that channel registered but not connected.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
	Lark     LarkConfig     `toml:"lark"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	BotID    string `toml:"bot_id"`
}

type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
	BotID    string `toml:"bot_id"`
}

type LarkConfig struct {
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
	BotID     string `toml:"bot_id"`
}

// Load reads the TOML file at path (or $COURIER_CONFIG, or the default
// location), filling defaults first. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Dedupe: DedupeConfig{
			TTL:       DefaultDedupeTTL,
			SweepCron: DefaultSweepCron,
		},
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, validate(cfg)
		}
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, validate(cfg)
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.Dedupe.TTLDuration(); err != nil {
		return fmt.Errorf("invalid dedupe ttl: %w", err)
	}
	if _, err := cfg.Auth.ExpiresInDuration(); err != nil {
		return fmt.Errorf("invalid jwt expires in: %w", err)
	}
	return nil
}
