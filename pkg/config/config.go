package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"CryptoDaily/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Mongo struct {
		URI            string        `yaml:"uri" default:"mongodb://localhost:27017/" validate:"required,startswith=mongodb"`
		Database       string        `yaml:"database" default:"crypto" validate:"required"`
		Collection     string        `yaml:"collection" default:"crypto_data" validate:"required"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s" validate:"gt=0"`
		OpTimeout      time.Duration `yaml:"op_timeout" default:"30s" validate:"gt=0"`
	} `yaml:"mongo"`
	Upstream struct {
		BaseURL      string        `yaml:"base_url" default:"https://api.binance.com/api/v3" validate:"required,url"`
		QuoteAsset   string        `yaml:"quote_asset" default:"USDT" validate:"required"`
		Timeout      time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
		MaxRetries   int           `yaml:"max_retries" default:"3" validate:"min=1,max=10"`
		RetryDelay   time.Duration `yaml:"retry_delay" default:"5s" validate:"gte=0"`
		PageSize     int           `yaml:"page_size" default:"1000" validate:"min=1,max=1000"`
		HistoryFloor string        `yaml:"history_floor" default:"2017-08-01" validate:"datetime=2006-01-02"`
	} `yaml:"upstream"`
	Pacing struct {
		PageDelay  time.Duration `yaml:"page_delay" default:"1s" validate:"gte=0"`
		AssetDelay time.Duration `yaml:"asset_delay" default:"1s" validate:"gte=0"`
	} `yaml:"pacing"`
	Schedule struct {
		Cron       string `yaml:"cron" default:"0 0 1 * * *" validate:"required"`
		Timezone   string `yaml:"timezone" default:"UTC" validate:"required"`
		RunOnStart bool   `yaml:"run_on_start" default:"true"`
	} `yaml:"schedule"`
	Lock struct {
		Enabled bool          `yaml:"enabled" default:"false"`
		Key     string        `yaml:"key" default:"lease:sync-cycle" validate:"required"`
		TTL     time.Duration `yaml:"ttl" default:"6h" validate:"gt=0"`
	} `yaml:"lock"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" default:"0" validate:"gte=0"`
		Prefix   string `yaml:"prefix" default:"cryptodaily"`
	} `yaml:"redis"`
	Events struct {
		Kafka struct {
			Enabled      bool          `yaml:"enabled" default:"false"`
			Brokers      []string      `yaml:"brokers" validate:"required_if=Enabled true"`
			Topic        string        `yaml:"topic" default:"dayline.appended"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Enabled     bool          `yaml:"enabled" default:"false"`
			Host        string        `yaml:"host" validate:"required_if=Enabled true"`
			Port        int           `yaml:"port" default:"9000"`
			Database    string        `yaml:"database" default:"crypto"`
			Table       string        `yaml:"table" default:"dayline"`
			User        string        `yaml:"user" default:"default"`
			Password    string        `yaml:"password"`
			UseHTTP     bool          `yaml:"use_http" default:"false"`
			DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		} `yaml:"clickhouse"`
	} `yaml:"events"`
}

var validate = validator.New()

// Load applies defaults, overlays the YAML file (if present) and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("SYNC_CRON"); v != "" {
		c.Schedule.Cron = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		c.Redis.DB = util.ParseIntDefault(v, c.Redis.DB)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags plus cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// HistoryFloor returns the earliest day requested for a full-history fetch.
func (c *Config) HistoryFloor() time.Time {
	return util.ParseTimeDefault(c.Upstream.HistoryFloor, time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC))
}

// Location returns the scheduler's time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
