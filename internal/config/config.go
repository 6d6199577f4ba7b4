package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the server.
type Config struct {
	Addr      string          `mapstructure:"addr"`
	LogLevel  string          `mapstructure:"log_level"`
	Debug     bool            `mapstructure:"debug"`
	Timezone  string          `mapstructure:"timezone"`
	Store     StoreConfig     `mapstructure:"store"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type RemindersConfig struct {
	FirePastDue bool `mapstructure:"fire_past_due"`
	Workers     int  `mapstructure:"workers"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// SetDefaults registers every key so env vars bind even without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("timezone", "Local")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("reminders.fire_past_due", false)
	v.SetDefault("reminders.workers", 4)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
}

// New returns a viper instance reading TASKMINDER_* env vars, plus the
// EMAIL_USER/EMAIL_PASS names older deployments use.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("TASKMINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("smtp.username", "TASKMINDER_SMTP_USERNAME", "EMAIL_USER")
	_ = v.BindEnv("smtp.password", "TASKMINDER_SMTP_PASSWORD", "EMAIL_PASS")
	return v
}

// Load reads an optional YAML file into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file", "sqlite", "gorm":
	default:
		return fmt.Errorf("store.driver must be file, sqlite or gorm, got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}

// Location resolves Timezone; due dates without an offset are read in it.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
