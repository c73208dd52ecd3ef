// Package config loads gateway settings from defaults, an optional YAML file,
// a .env file and CHURN_-prefixed environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`
	Health struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`
	Database struct {
		DSN         string        `mapstructure:"dsn"`
		MaxConns    int32         `mapstructure:"max_conns"`
		MaxConnIdle time.Duration `mapstructure:"max_conn_idle"`
	} `mapstructure:"database"`
	JWT struct {
		Secret string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"jwt"`
	Password struct {
		Time    uint32 `mapstructure:"time"`
		Memory  uint32 `mapstructure:"memory"`
		Threads uint8  `mapstructure:"threads"`
	} `mapstructure:"password"`
	Backend struct {
		URL             string        `mapstructure:"url"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		TrainTimeout    time.Duration `mapstructure:"train_timeout"`
		MaxDatasetBytes int64         `mapstructure:"max_dataset_bytes"`
	} `mapstructure:"backend"`
	Limiter struct {
		Enabled  bool          `mapstructure:"enabled"`
		Window   time.Duration `mapstructure:"window"`
		MaxFails int           `mapstructure:"max_fails"`
		BlockFor time.Duration `mapstructure:"block_for"`
	} `mapstructure:"limiter"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Idempotency struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"idempotency"`
	S3 struct {
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
	} `mapstructure:"s3"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"http.addr":                 ":3000",
	"http.cors_origins":         []string{"*"},
	"health.addr":               ":3001",
	"database.dsn":              "",
	"database.max_conns":        int32(10),
	"database.max_conn_idle":    5 * time.Minute,
	"jwt.secret":                "",
	"jwt.ttl":                   8 * time.Hour,
	"password.time":             3,
	"password.memory":           64 * 1024,
	"password.threads":          1,
	"backend.url":               "http://127.0.0.1:5000",
	"backend.request_timeout":   30 * time.Second,
	"backend.train_timeout":     5 * time.Minute,
	"backend.max_dataset_bytes": 32 << 20,
	"limiter.enabled":           true,
	"limiter.window":            15 * time.Minute,
	"limiter.max_fails":         5,
	"limiter.block_for":         15 * time.Minute,
	"redis.addr":                "",
	"redis.password":            "",
	"redis.db":                  0,
	"idempotency.ttl":           24 * time.Hour,
	"s3.bucket":                 "",
	"s3.region":                 "us-east-1",
	"s3.endpoint":               "",
	"s3.access_key":             "",
	"s3.secret_key":             "",
	"shutdown_timeout":          10 * time.Second,
}

// Load reads configuration. path is an optional YAML file; an empty path skips it.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("CHURN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var problems []error
	if c.JWT.Secret == "" {
		problems = append(problems, errors.New("jwt.secret (CHURN_JWT_SECRET) is required"))
	}
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn (CHURN_DATABASE_DSN) is required"))
	}
	if c.Backend.URL == "" {
		problems = append(problems, errors.New("backend.url (CHURN_BACKEND_URL) is required"))
	}
	if c.Backend.MaxDatasetBytes <= 0 {
		problems = append(problems, errors.New("backend.max_dataset_bytes must be positive"))
	}
	if c.Limiter.Enabled && c.Limiter.MaxFails <= 0 {
		problems = append(problems, errors.New("limiter.max_fails must be positive"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %w", errors.Join(problems...))
	}
	return nil
}
