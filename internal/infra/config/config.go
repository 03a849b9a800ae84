package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LiveManifest is the default manifest source: the current Win64 client build.
const LiveManifest = "http://cdn.zaonce.net/elitedangerous/win/manifests/Win64_4_0_0_Update19_CobraV_Final_CLEAN+%282024.12.10.308767%29.xml.gz"

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Manifest ManifestConfig `mapstructure:"manifest" yaml:"manifest"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`

	Port string `mapstructure:"port" yaml:"port"`
}

type DownloadConfig struct {
	OutDir           string        `mapstructure:"out_dir" yaml:"out_dir"`
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	Digest           string        `mapstructure:"digest" yaml:"digest"`
	RateLimit        int64         `mapstructure:"rate_limit" yaml:"rate_limit"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StopGrace        time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type ManifestConfig struct {
	Source string `mapstructure:"source" yaml:"source"`

	// CacheDir keeps the last good copy of each manifest. Empty disables it.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

const (
	DefaultWorkers   = 16
	DefaultChunkSize = 8 * 1024
	maxWorkers       = 256
)

// Load reads the YAML config at path. When path is empty or the default
// config.yaml is absent, built-in defaults and MANIFETCH_* env vars apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	} else if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
		// Docker layout
		v.SetConfigFile("/config/config.yaml")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file /config/config.yaml: %w", err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("MANIFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.workers", DefaultWorkers)
	v.SetDefault("download.chunk_size", DefaultChunkSize)
	v.SetDefault("download.digest", "sha1")
	v.SetDefault("download.rate_limit", 0)
	v.SetDefault("download.timeout", "60s")
	v.SetDefault("download.stop_grace", "500ms")
	v.SetDefault("download.progress_interval", "100ms")
	v.SetDefault("download.user_agent", "manifetch/1.0")
	v.SetDefault("manifest.source", LiveManifest)
	v.SetDefault("manifest.cache_dir", "./data/manifests")
	v.SetDefault("log.path", "manifetch.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/manifetch.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")
}

func (c *Config) validate() error {
	d := &c.Download

	if d.OutDir == "" {
		d.OutDir = "./downloads"
	}

	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.Workers > maxWorkers {
		fmt.Printf("Warning: download.workers=%d is above %d, clamping\n", d.Workers, maxWorkers)
		d.Workers = maxWorkers
	}

	if d.ChunkSize <= 0 {
		d.ChunkSize = DefaultChunkSize
	}

	d.Digest = strings.ToLower(d.Digest)
	switch d.Digest {
	case "sha1", "sha256":
	case "":
		d.Digest = "sha1"
	default:
		return fmt.Errorf("download.digest %q is not supported (use sha1 or sha256)", d.Digest)
	}

	if d.RateLimit < 0 {
		return errors.New("download.rate_limit must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported (use sqlite, postgres or none)", c.Store.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	return nil
}
