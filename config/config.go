// Package config loads SDK configuration from LIMITLESS_-prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all SDK configuration.
type Config struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
	WSURL  string `mapstructure:"ws_url"`

	HTTP    HTTPConfig
	Retry   RetryConfig
	Signing SigningConfig
	Log     LogConfig
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec"`
}

// Timeout returns the request timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

// RetryConfig holds retry orchestration settings.
type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// SigningConfig holds order-signing settings. Exactly one key source should
// be set: a raw private key, or a KMS-encrypted key blob plus region.
type SigningConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	KMSCiphertext string `mapstructure:"kms_ciphertext"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSEndpoint   string `mapstructure:"aws_endpoint"`
	ChainID       int64  `mapstructure:"chain_id"`
	DomainName    string `mapstructure:"domain_name"`
	DomainVersion string `mapstructure:"domain_version"`
	FeeRateBps    int    `mapstructure:"fee_rate_bps"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from environment variables prefixed with
// LIMITLESS_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIMITLESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api_url", "https://api.limitless.exchange")
	v.SetDefault("ws_url", "wss://ws.limitless.exchange")

	v.SetDefault("http.timeout_sec", 30)
	v.SetDefault("retry.max_retries", 2)

	// Signing defaults
	v.SetDefault("signing.chain_id", 8453)
	v.SetDefault("signing.domain_name", "Limitless CTF Exchange")
	v.SetDefault("signing.domain_version", "1")
	v.SetDefault("signing.fee_rate_bps", 30)
	v.SetDefault("signing.aws_region", "us-east-1")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	cfg := &Config{}

	cfg.APIURL = v.GetString("api_url")
	cfg.APIKey = v.GetString("api_key")
	cfg.WSURL = v.GetString("ws_url")

	cfg.HTTP = HTTPConfig{
		TimeoutSec: v.GetInt("http.timeout_sec"),
	}

	cfg.Retry = RetryConfig{
		MaxRetries: v.GetInt("retry.max_retries"),
	}

	cfg.Signing = SigningConfig{
		PrivateKey:    v.GetString("signing.private_key"),
		KMSCiphertext: v.GetString("signing.kms_ciphertext"),
		AWSRegion:     v.GetString("signing.aws_region"),
		AWSEndpoint:   v.GetString("signing.aws_endpoint"),
		ChainID:       v.GetInt64("signing.chain_id"),
		DomainName:    v.GetString("signing.domain_name"),
		DomainVersion: v.GetString("signing.domain_version"),
		FeeRateBps:    v.GetInt("signing.fee_rate_bps"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	if cfg.Signing.PrivateKey != "" && cfg.Signing.KMSCiphertext != "" {
		return nil, fmt.Errorf("config: signing.private_key and signing.kms_ciphertext are mutually exclusive")
	}

	return cfg, nil
}
