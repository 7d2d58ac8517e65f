// Package config loads server configuration with viper.
//
// Sources, in order of precedence: environment variables (LANSHARE_*),
// an optional config file (lanshare.yaml), built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Storage
	StorageRoot string `mapstructure:"storage_root"`
	DataDir     string `mapstructure:"data_dir"`

	// Auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Uploads
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
}

// Load reads configuration from the environment and an optional config file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage_root", "shared-storage")
	v.SetDefault("data_dir", "data")
	v.SetDefault("max_upload_size", int64(2)<<30) // 2 GiB

	v.SetEnvPrefix("LANSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lanshare")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/lanshare")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("LANSHARE_JWT_SECRET is required")
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("max_upload_size must be positive")
	}

	return &cfg, nil
}
