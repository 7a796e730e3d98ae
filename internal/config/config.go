package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "QUILLPAD"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultStorageRoot            = "documents"
	defaultLogLevel               = "info"
	defaultPersistIntervalSeconds = 2
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	StorageRoot     string
	LogLevel        string
	PersistInterval time.Duration
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("sync.persist_interval_seconds", defaultPersistIntervalSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		StorageRoot:     configViper.GetString("storage.root"),
		LogLevel:        configViper.GetString("log.level"),
		PersistInterval: time.Duration(configViper.GetInt("sync.persist_interval_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.PersistInterval <= 0 {
		return fmt.Errorf("sync.persist_interval_seconds must be positive")
	}
	return nil
}
