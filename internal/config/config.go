package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server              ServerConfig   `yaml:"server"`
	Redis               RedisConfig    `yaml:"redis"`
	Stream              StreamConfig   `yaml:"stream"`
	Database            DatabaseConfig `yaml:"database"`
	Mongo               MongoConfig    `yaml:"mongo"`
	RabbitMQ            RabbitMQConfig `yaml:"rabbitmq"`
	Snapshot            SnapshotConfig `yaml:"snapshot"`
	Client              ClientConfig   `yaml:"client"`
	DefaultOrganization string         `yaml:"default_organization"`
	LogLevel            string         `yaml:"log_level"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig is shared by every stream session. Each session holds one
// pooled connection for a whole block window, so PoolSize bounds the
// number of sessions that can read at the same time.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PoolTimeout time.Duration `yaml:"pool_timeout"`
}

// StreamConfig controls how each connection tails the listing event log.
type StreamConfig struct {
	Name           string        `yaml:"name"`
	Count          int64         `yaml:"count"`
	Block          time.Duration `yaml:"block"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RabbitMQConfig is optional; an empty URL disables status change publishing.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type SnapshotConfig struct {
	FreshMaxHours     int `yaml:"fresh_max_hours"`
	FreshLimit        int `yaml:"fresh_limit"`
	AvailableMinHours int `yaml:"available_min_hours"`
	PageSize          int `yaml:"page_size"`
}

// ClientConfig is used by feedctl.
type ClientConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxHours        int           `yaml:"max_hours"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Organization    string        `yaml:"organization"`
	Retry           RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Stream.Name == "" {
		c.Stream.Name = "listing:events"
	}
	if c.Stream.Count == 0 {
		c.Stream.Count = 10
	}
	if c.Stream.Block == 0 {
		c.Stream.Block = 5 * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 256
	}
	if c.Redis.PoolTimeout == 0 {
		c.Redis.PoolTimeout = c.Stream.Block + time.Second
	}
	if c.Stream.InitialBackoff == 0 {
		c.Stream.InitialBackoff = 500 * time.Millisecond
	}
	if c.Stream.MaxBackoff == 0 {
		c.Stream.MaxBackoff = 30 * time.Second
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "coldbot"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "listings"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "listing_feed"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "pipeline.status"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "pipeline_status_changes"
	}
	if c.Snapshot.FreshMaxHours == 0 {
		c.Snapshot.FreshMaxHours = 72
	}
	if c.Snapshot.FreshLimit == 0 {
		c.Snapshot.FreshLimit = 500
	}
	if c.Snapshot.AvailableMinHours == 0 {
		c.Snapshot.AvailableMinHours = 24
	}
	if c.Snapshot.PageSize == 0 {
		c.Snapshot.PageSize = 25
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://localhost:8080"
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 30 * time.Second
	}
	if c.Client.MaxHours == 0 {
		c.Client.MaxHours = c.Snapshot.FreshMaxHours
	}
	if c.Client.RefreshInterval == 0 {
		c.Client.RefreshInterval = 5 * time.Minute
	}
	if c.Client.Retry.MaxAttempts == 0 {
		c.Client.Retry.MaxAttempts = 3
	}
	if c.Client.Retry.InitialBackoff == 0 {
		c.Client.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Client.Retry.MaxBackoff == 0 {
		c.Client.Retry.MaxBackoff = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
