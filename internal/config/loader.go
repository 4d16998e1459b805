package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "gojobs"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "GOJOBS"

	configFileName = "config"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps an environment variable to a config key path.
type EnvSpec struct {
	Name string
	Path string
}

// shortEnv are aliases accepted in addition to the derived GOJOBS_<SECTION>_<KEY>
// names.
var shortEnv = []EnvSpec{
	{Name: "LOG_LEVEL", Path: "logging.level"},
	{Name: "LOG_PROFILE", Path: "logging.profile"},
	{Name: "HOST", Path: "server.host"},
	{Name: "PORT", Path: "server.port"},
	{Name: "READ_TIMEOUT", Path: "server.read_timeout"},
	{Name: "WRITE_TIMEOUT", Path: "server.write_timeout"},
	{Name: "IDLE_TIMEOUT", Path: "server.idle_timeout"},
	{Name: "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
	{Name: "BACKEND", Path: "storage.backend"},
	{Name: "DATA_DIR", Path: "storage.fs.dir"},
	{Name: "POSTGRES_DSN", Path: "storage.postgres.dsn"},
	{Name: "REDIS_ADDR", Path: "storage.redis.addrs"},
	{Name: "S3_BUCKET", Path: "storage.s3.bucket"},
	{Name: "S3_ENDPOINT", Path: "storage.s3.endpoint"},
	{Name: "MAX_CONCURRENT", Path: "engine.max_concurrent"},
	{Name: "METRICS_ENABLED", Path: "metrics.enabled"},
	{Name: "EVENTS_PATH", Path: "events.path"},
	{Name: "ALLOW_EXEC", Path: "server.allow_exec"},
}

// SetConfigFile forces Load to read path instead of searching the user config
// directory. An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overwritten.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration.
//
// Precedence, highest first: runtime overrides, environment, config file,
// defaults. The result becomes the value returned by GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name, envName(spec.Path)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the configuration from the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values that would otherwise fail later with a less useful
// error.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFS, BackendSQLite, BackendPostgres, BackendS3, BackendRedis:
	default:
		return fmt.Errorf("invalid storage.backend %q (expected fs, sqlite, postgres, s3 or redis)", c.Storage.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("invalid engine.max_concurrent %d", c.Engine.MaxConcurrent)
	}
	return nil
}

// DataDir is the default root for job documents, logs and the SQLite file.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("storage.backend", BackendFS)
	v.SetDefault("storage.fs.dir", filepath.Join(dataDir, "jobs"))
	v.SetDefault("storage.sqlite.path", filepath.Join(dataDir, "gojobs.db"))
	v.SetDefault("storage.sqlite.url", "")
	v.SetDefault("storage.sqlite.auth_token", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "jobs/")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.profile", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.redis.addrs", []string{"localhost:6379"})
	v.SetDefault("storage.redis.username", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "gojobs:job:")
	v.SetDefault("storage.redis.ttl", "0s")

	v.SetDefault("engine.max_concurrent", 0)
	v.SetDefault("engine.final_save_timeout", "30s")
	v.SetDefault("engine.poll_interval", "10ms")
	v.SetDefault("engine.log_dir", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_wait", "5m")
	v.SetDefault("server.allow_exec", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)

	v.SetDefault("events.path", "")
	v.SetDefault("events.source", "")
}

func normalize(c *Config) {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Profile = strings.ToLower(strings.TrimSpace(c.Logging.Profile))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Server.WriteTimeout > 0 && c.Server.MaxWait >= c.Server.WriteTimeout {
		// A wait longer than the write timeout would be cut off mid-response.
		c.Server.MaxWait = c.Server.WriteTimeout - time.Second
	}
}

// getUserConfigPaths lists directories searched for config.yaml.
func getUserConfigPaths() []string {
	if dir := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG_DIR")); dir != "" {
		return []string{dir}
	}
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return nil
	}
	return []string{filepath.Join(base, AppName)}
}

// getEnvSpecs returns the explicit environment bindings.
func getEnvSpecs() []EnvSpec {
	specs := make([]EnvSpec, 0, len(shortEnv))
	for _, s := range shortEnv {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + s.Name, Path: s.Path})
	}
	return specs
}

func envName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
