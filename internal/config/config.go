package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the service settings. Values come from the YAML files passed
// with -c, then from environment variables, then from defaults.
type Config struct {
	Env         string `yaml:"env"`
	ServiceName string `yaml:"service_name"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	GRPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"grpc"`

	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Database int    `yaml:"database"`
	} `yaml:"redis"`

	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Tracing struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"tracing"`

	Messaging struct {
		MaxContentRunes int `yaml:"max_content_runes"`
		PreviewRunes    int `yaml:"preview_runes"`
		PageSize        int `yaml:"page_size"`
		MaxPageSize     int `yaml:"max_page_size"`
	} `yaml:"messaging"`

	Store struct {
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryBase     time.Duration `yaml:"retry_base"`
	} `yaml:"store"`

	Typing struct {
		TTL          time.Duration `yaml:"ttl"`
		HeartbeatRPS float64       `yaml:"heartbeat_rps"`
		Burst        int           `yaml:"burst"`
	} `yaml:"typing"`

	Broadcast struct {
		Workers int `yaml:"workers"`
	} `yaml:"broadcast"`
}

// Load reads comma-separated YAML files (later files override earlier ones),
// applies environment overrides and fills defaults. An empty path list is allowed.
func Load(pathList string) (*Config, error) {
	var c Config
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("ENVIRONMENT", c.Env)
	if port, ok := os.LookupEnv("PORT"); ok {
		c.HTTP.Addr = ":" + port
	}
	c.GRPC.Addr = getEnv("GRPC_ADDR", c.GRPC.Addr)
	c.Postgres.DSN = getEnv("DB_DSN", c.Postgres.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.AMQP.URL = getEnv("AMQP_URL", c.AMQP.URL)
	c.AMQP.Exchange = getEnv("AMQP_EXCHANGE", c.AMQP.Exchange)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	if workers, err := strconv.Atoi(getEnv("BROADCAST_WORKERS", "")); err == nil {
		c.Broadcast.Workers = workers
	}
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.ServiceName == "" {
		c.ServiceName = "messaging-service"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8083"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9083"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "messaging.events"
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 50
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 25
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Messaging.MaxContentRunes <= 0 {
		c.Messaging.MaxContentRunes = 4000
	}
	if c.Messaging.PreviewRunes <= 0 {
		c.Messaging.PreviewRunes = 120
	}
	if c.Messaging.PageSize <= 0 {
		c.Messaging.PageSize = 50
	}
	if c.Messaging.MaxPageSize <= 0 {
		c.Messaging.MaxPageSize = 200
	}
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = 3
	}
	if c.Store.RetryBase <= 0 {
		c.Store.RetryBase = 50 * time.Millisecond
	}
	switch {
	case c.Typing.TTL == 0:
		c.Typing.TTL = 6 * time.Second
	case c.Typing.TTL < 5*time.Second:
		c.Typing.TTL = 5 * time.Second
	case c.Typing.TTL > 8*time.Second:
		c.Typing.TTL = 8 * time.Second
	}
	if c.Typing.HeartbeatRPS <= 0 {
		c.Typing.HeartbeatRPS = 1
	}
	if c.Typing.Burst <= 0 {
		c.Typing.Burst = 3
	}
	if c.Broadcast.Workers <= 0 {
		c.Broadcast.Workers = 8
	}
}

// ErrMissingJWTSecret is returned by Load when no token secret is configured.
var ErrMissingJWTSecret = errors.New("config: auth.jwt_secret (JWT_SECRET) is required")

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
