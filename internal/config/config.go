// Package config loads gojobs configuration from defaults, a YAML config
// file, GOJOBS_* environment variables and runtime overrides.
package config

import (
	"time"
)

// Storage backends.
const (
	BackendFS       = "fs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendRedis    = "redis"
)

// Config is the full gojobs configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// StorageConfig selects and configures the job store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	FS       FSConfig       `mapstructure:"fs" yaml:"fs"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

type FSConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SQLiteConfig holds either a local Path or a libsql URL with AuthToken.
type SQLiteConfig struct {
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Prefix         string `mapstructure:"prefix" yaml:"prefix"`
	Region         string `mapstructure:"region" yaml:"region"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Profile        string `mapstructure:"profile" yaml:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

type RedisConfig struct {
	Addrs    []string      `mapstructure:"addrs" yaml:"addrs"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// EngineConfig tunes the submission engine.
type EngineConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	FinalSaveTimeout time.Duration `mapstructure:"final_save_timeout" yaml:"final_save_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// LogDir holds per-job stdout and stderr. Empty means the fs store
	// directory for the fs backend, and <data dir>/logs otherwise.
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxWait caps the timeout accepted by the wait endpoint.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`

	// AllowExec enables POST /jobs, which runs commands on the server host.
	AllowExec bool `mapstructure:"allow_exec" yaml:"allow_exec"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// EventsConfig enables the JSONL event log. An empty Path disables it.
type EventsConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Source string `mapstructure:"source" yaml:"source"`
}
