package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	envConfig           = "NIGHTSCOUT_CONFIG"
	envSiteURL          = "NIGHTSCOUT_SITE_URL"
	envAPISecret        = "NIGHTSCOUT_API_SECRET"
	envDatabasePath     = "NIGHTSCOUT_DB"
	envSecretPassphrase = "NIGHTSCOUT_SECRET_PASSPHRASE"
	envSource           = "NIGHTSCOUT_SOURCE"
	envOTPPeriod        = "NIGHTSCOUT_OTP_PERIOD"
	envOTPDigits        = "NIGHTSCOUT_OTP_DIGITS"
	envMaxOTPs          = "NIGHTSCOUT_MAX_OTPS"
	envCacheKeepTime    = "NIGHTSCOUT_CACHE_KEEP_TIME"
	envRequestTimeout   = "NIGHTSCOUT_REQUEST_TIMEOUT"
	envLogLevel         = "NIGHTSCOUT_LOG_LEVEL"
	envLogFormat        = "NIGHTSCOUT_LOG_FORMAT"
)

var envKeys = []string{
	envConfig, envSiteURL, envAPISecret, envDatabasePath, envSecretPassphrase, envSource,
	envOTPPeriod, envOTPDigits, envMaxOTPs, envCacheKeepTime, envRequestTimeout,
	envLogLevel, envLogFormat,
}

// readEnv merges the dotenv file at path with the process environment. A
// missing file is only an error when the user named it explicitly.
func readEnv(path string, explicit bool, lookup func(string) (string, bool)) (map[string]string, error) {
	env := map[string]string{}
	if path != "" {
		fileEnv, err := godotenv.Read(path)
		switch {
		case err == nil:
			env = fileEnv
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
	}

	for _, key := range envKeys {
		if v, ok := lookup(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	setString := func(key string, dst *string) {
		if v := env[key]; v != "" {
			*dst = v
		}
	}
	setString(envSiteURL, &cfg.SiteURL)
	setString(envAPISecret, &cfg.APISecret)
	setString(envDatabasePath, &cfg.DatabasePath)
	setString(envSecretPassphrase, &cfg.SecretPassphrase)
	setString(envSource, &cfg.Source)
	setString(envLogLevel, &cfg.LogLevel)
	setString(envLogFormat, &cfg.LogFormat)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{envOTPPeriod, &cfg.OTPPeriod},
		{envCacheKeepTime, &cfg.ObjectIDCacheKeepTime},
		{envRequestTimeout, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if v := env[d.key]; v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{envOTPDigits, &cfg.OTPDigits},
		{envMaxOTPs, &cfg.MaxOTPsToAccept},
	}
	for _, i := range ints {
		if v := env[i.key]; v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", i.key, err)
			}
			*i.dst = parsed
		}
	}
	return nil
}
