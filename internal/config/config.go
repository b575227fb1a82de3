// Package config loads bot configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full bot configuration.
type Config struct {
	Domain  string        `mapstructure:"domain"`
	Channel ChannelConfig `mapstructure:"channel"`
	User    UserConfig    `mapstructure:"user"`
	Bot     BotConfig     `mapstructure:"bot"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type ChannelConfig struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

type UserConfig struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

type BotConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	GuestLoginCap   int           `mapstructure:"guest_login_cap"`
}

type SocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
}

// ProxyConfig maps destination host suffixes (or "*") to SOCKS proxy
// URLs.
type ProxyConfig struct {
	Routes map[string]string `mapstructure:"routes"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from path (optional when empty) and from
// CYTUBE_* environment variables, which win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("bot.response_timeout", "10s")
	v.SetDefault("bot.reconnect_delay", "5s")
	v.SetDefault("bot.guest_login_cap", 5)
	v.SetDefault("socket.ping_interval", "25s")
	v.SetDefault("socket.ping_timeout", "60s")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "cytube.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("CYTUBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the bot cannot run without.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return errors.New("config: domain is required")
	}
	if c.Channel.Name == "" {
		return errors.New("config: channel.name is required")
	}
	if c.User.Name == "" && c.User.Password != "" {
		return errors.New("config: user.password set without user.name")
	}
	if c.Bot.ResponseTimeout <= 0 {
		return errors.New("config: bot.response_timeout must be positive")
	}
	if c.Bot.GuestLoginCap < 1 {
		return errors.New("config: bot.guest_login_cap must be at least 1")
	}
	if c.Socket.PingInterval <= 0 || c.Socket.PingTimeout <= 0 {
		return errors.New("config: socket ping settings must be positive")
	}
	return nil
}
