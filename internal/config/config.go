package config

import (
	"fmt"
	"os"
	"time"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/spf13/pflag"
)

// Config holds runtime settings.
type Config struct {
	SiteURL   string
	APISecret string

	DatabasePath string
	// SecretPassphrase encrypts the OTP secret at rest when set.
	SecretPassphrase string
	// Source is reported as enteredBy/device on uploaded documents.
	Source string

	OTPPeriod             time.Duration
	OTPDigits             int
	MaxOTPsToAccept       int
	ObjectIDCacheKeepTime time.Duration
	RequestTimeout        time.Duration

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "nightscout.db"
	c.Source = defaultSource()
	c.OTPPeriod = 30 * time.Second
	c.OTPDigits = 6
	c.MaxOTPsToAccept = 2
	c.ObjectIDCacheKeepTime = common.ObjectIDCacheKeepTime
	c.RequestTimeout = 30 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// HasCredentials reports whether uploads can be attempted.
func (c *Config) HasCredentials() bool {
	return c.SiteURL != "" && c.APISecret != ""
}

// Validate checks ranges. Errors wrap common.ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.OTPPeriod < time.Second || c.OTPPeriod%time.Second != 0:
		return fmt.Errorf("%w: otp period must be a whole number of seconds, got %s", common.ErrInvalidConfig, c.OTPPeriod)
	case c.OTPDigits < 6 || c.OTPDigits > 8:
		return fmt.Errorf("%w: otp digits must be 6 to 8, got %d", common.ErrInvalidConfig, c.OTPDigits)
	case c.MaxOTPsToAccept < 1:
		return fmt.Errorf("%w: max otps to accept must be positive, got %d", common.ErrInvalidConfig, c.MaxOTPsToAccept)
	case c.ObjectIDCacheKeepTime <= 0:
		return fmt.Errorf("%w: object id cache keep time must be positive", common.ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request timeout must be positive", common.ErrInvalidConfig)
	case c.DatabasePath == "":
		return fmt.Errorf("%w: database path is required", common.ErrInvalidConfig)
	case (c.SiteURL == "") != (c.APISecret == ""):
		return fmt.Errorf("%w: site url and api secret must be set together", common.ErrInvalidConfig)
	}
	return nil
}

// Load builds a Config from defaults, dotenv and environment, the JSON file
// and the flags registered on fs with RegisterFlags. fs must already be
// parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	return load(fs, os.LookupEnv)
}

func load(fs *pflag.FlagSet, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	envFile, _ := fs.GetString(flagEnvFile)
	env, err := readEnv(envFile, fs.Changed(flagEnvFile), lookup)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	jsonFile, _ := fs.GetString(flagConfig)
	if jsonFile == "" {
		jsonFile = env[envConfig]
	}
	if jsonFile != "" {
		if err := applyJSONFile(cfg, jsonFile); err != nil {
			return nil, err
		}
	}

	if err := applyFlags(cfg, fs); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultSource() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "nightscout-uploader"
	}
	return "loop://" + host
}
