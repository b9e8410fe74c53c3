package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddr         = "127.0.0.1:6001"
	defaultAuthEndpoint = "/broadcasting/auth"
	defaultAuthHost     = "http://localhost"
	defaultIdentityKey  = "user_id"
	defaultAuthTimeout  = 8 * time.Second
)

type config struct {
	Addr    string `yaml:"addr"`
	Origin  string `yaml:"origin"`
	DevMode bool   `yaml:"dev_mode"`

	// AppKey authorizes HTTP broadcast requests. Empty disables the check.
	AppKey string `yaml:"app_key"`

	AuthHosts    []string `yaml:"auth_hosts"`
	AuthEndpoint string   `yaml:"auth_endpoint"`
	AuthTimeout  string   `yaml:"auth_timeout"`

	PrivatePatterns []string `yaml:"private_channels"`
	ClientEvents    []string `yaml:"client_events"`
	IdentityKey     string   `yaml:"identity_key"`

	Database string      `yaml:"database"` // "memory" or "redis"
	Redis    redisConfig `yaml:"redis"`

	Subscribers subscribersConfig `yaml:"subscribers"`
}

type redisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// PublishPresence mirrors presence member-list writes onto a
	// PresenceChannelUpdated pub/sub channel for external observers.
	PublishPresence bool `yaml:"publish_presence"`
}

type subscribersConfig struct {
	Redis redisSubConfig `yaml:"redis"`
	Nats  natsSubConfig  `yaml:"nats"`
	Kafka kafkaSubConfig `yaml:"kafka"`
}

type redisSubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Pattern string `yaml:"pattern"`
}

type natsSubConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers"`
	Subject string   `yaml:"subject"`
}

type kafkaSubConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
	Topics  []string `yaml:"topics"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.withDefaults()
	return cfg, nil
}

func (c *config) withDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if len(c.AuthHosts) == 0 {
		c.AuthHosts = []string{defaultAuthHost}
	}
	if c.AuthEndpoint == "" {
		c.AuthEndpoint = defaultAuthEndpoint
	}
	if len(c.PrivatePatterns) == 0 {
		c.PrivatePatterns = []string{"private-*", "presence-*"}
	}
	if len(c.ClientEvents) == 0 {
		c.ClientEvents = []string{"client-*"}
	}
	if c.IdentityKey == "" {
		c.IdentityKey = defaultIdentityKey
	}
	if c.Database == "" {
		c.Database = "memory"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Subscribers.Redis.Pattern == "" {
		c.Subscribers.Redis.Pattern = "*"
	}
	if c.Subscribers.Nats.Subject == "" {
		c.Subscribers.Nats.Subject = "echohub.broadcast"
	}
	if c.Subscribers.Kafka.GroupID == "" {
		c.Subscribers.Kafka.GroupID = "echohub"
	}
}

func (c *config) authTimeout() time.Duration {
	if c.AuthTimeout == "" {
		return defaultAuthTimeout
	}
	d, err := time.ParseDuration(c.AuthTimeout)
	if err != nil || d <= 0 {
		return defaultAuthTimeout
	}
	return d
}
