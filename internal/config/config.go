package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "PLATEFINDER"
	defaultListenAddress = "127.0.0.1:1337"
	defaultAPIBaseURL    = "http://localhost:8000"
	defaultDatabasePath  = "platefinder.db"
	defaultCacheDir      = "shellcache"
	defaultCacheTag      = "v1"
	defaultLogLevel      = "info"
	defaultProbeInterval = 500 * time.Millisecond
)

// AppConfig captures runtime configuration for the offline agent.
type AppConfig struct {
	ListenAddress string
	APIBaseURL    string
	DatabasePath  string
	CacheDir      string
	CacheTag      string
	LogLevel      string
	ProbeInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultListenAddress)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("cache.dir", defaultCacheDir)
	configViper.SetDefault("cache.tag", defaultCacheTag)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("connectivity.probe_interval", defaultProbeInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		ListenAddress: configViper.GetString("http.address"),
		APIBaseURL:    configViper.GetString("api.base_url"),
		DatabasePath:  configViper.GetString("database.path"),
		CacheDir:      configViper.GetString("cache.dir"),
		CacheTag:      configViper.GetString("cache.tag"),
		LogLevel:      configViper.GetString("log.level"),
		ProbeInterval: configViper.GetDuration("connectivity.probe_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CacheTag) == "" {
		return fmt.Errorf("cache.tag is required")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.probe_interval must be positive")
	}
	return nil
}
