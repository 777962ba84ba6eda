// Package config loads mediascribe configuration.
//
// Precedence: explicit config file > MEDIASCRIBE_* environment
// variables > defaults. Service credentials are optional; stages whose
// credentials are absent degrade instead of failing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEDIASCRIBE"

// Config is the full application configuration.
type Config struct {
	// Workers is the per-stage worker pool size.
	Workers int `mapstructure:"workers"`

	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Summarize  SummarizeConfig  `mapstructure:"summarize"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// StorageConfig holds the object storage settings for the upload stage.
type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// KeyPrefix prepends uploaded object keys.
	KeyPrefix string `mapstructure:"key_prefix"`

	// URLTTL is the signed URL lifetime.
	URLTTL time.Duration `mapstructure:"url_ttl"`
}

// HasCredentials reports whether the upload stage can run. A bucket is
// always required; credentials may come from a static pair or a shared
// profile.
func (c *StorageConfig) HasCredentials() bool {
	if c.Bucket == "" {
		return false
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		return true
	}
	return c.Profile != ""
}

// TranscribeConfig holds the speech-to-text API settings.
type TranscribeConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	LanguageHints []string      `mapstructure:"language_hints"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
}

// HasCredentials reports whether the transcription stage can run.
func (c *TranscribeConfig) HasCredentials() bool {
	return c.APIKey != ""
}

// SummarizeConfig holds the chat completion API settings.
type SummarizeConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// HasCredentials reports whether the summarization stage can run.
func (c *SummarizeConfig) HasCredentials() bool {
	return c.APIKey != ""
}

// Load reads the configuration. An empty path skips the config file
// and uses environment variables and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so environment-only values survive
	// Unmarshal.
	v.SetDefault("workers", 4)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.key_prefix", "audio_transcription/")
	v.SetDefault("storage.url_ttl", 24*time.Hour)
	v.SetDefault("transcribe.api_key", "")
	v.SetDefault("transcribe.base_url", "")
	v.SetDefault("transcribe.model", "fun-asr")
	v.SetDefault("transcribe.language_hints", []string{"zh"})
	v.SetDefault("transcribe.poll_interval", 5*time.Second)
	v.SetDefault("transcribe.poll_timeout", 30*time.Minute)
	v.SetDefault("transcribe.rate_limit", 2.0)
	v.SetDefault("summarize.api_key", "")
	v.SetDefault("summarize.base_url", "")
	v.SetDefault("summarize.model", "deepseek-chat")
	v.SetDefault("summarize.temperature", 0.3)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	return &cfg, nil
}
