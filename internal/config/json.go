package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loopkit/nightscoutservice/internal/timex"
)

// JSONConfig is a DTO used only for unmarshalling the config file.
type JSONConfig struct {
	SiteURL               string         `json:"site_url"`
	APISecret             string         `json:"api_secret"`
	DatabasePath          string         `json:"database_path"`
	SecretPassphrase      string         `json:"secret_passphrase"`
	Source                string         `json:"source"`
	OTPPeriod             timex.Duration `json:"otp_period"`
	OTPDigits             int            `json:"otp_digits"`
	MaxOTPsToAccept       int            `json:"max_otps_to_accept"`
	ObjectIDCacheKeepTime timex.Duration `json:"object_id_cache_keep_time"`
	RequestTimeout        timex.Duration `json:"request_timeout"`
	LogLevel              string         `json:"log_level"`
	LogFormat             string         `json:"log_format"`
}

// applyJSONFile overlays cfg with the non-zero fields of the file at path.
func applyJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	overlay(&cfg.SiteURL, jc.SiteURL)
	overlay(&cfg.APISecret, jc.APISecret)
	overlay(&cfg.DatabasePath, jc.DatabasePath)
	overlay(&cfg.SecretPassphrase, jc.SecretPassphrase)
	overlay(&cfg.Source, jc.Source)
	overlay(&cfg.OTPPeriod, jc.OTPPeriod.Duration)
	overlay(&cfg.OTPDigits, jc.OTPDigits)
	overlay(&cfg.MaxOTPsToAccept, jc.MaxOTPsToAccept)
	overlay(&cfg.ObjectIDCacheKeepTime, jc.ObjectIDCacheKeepTime.Duration)
	overlay(&cfg.RequestTimeout, jc.RequestTimeout.Duration)
	overlay(&cfg.LogLevel, jc.LogLevel)
	overlay(&cfg.LogFormat, jc.LogFormat)
	return nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
