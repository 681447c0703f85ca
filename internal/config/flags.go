package config

import "github.com/spf13/pflag"

const (
	flagConfig           = "config"
	flagEnvFile          = "env-file"
	flagSiteURL          = "site-url"
	flagAPISecret        = "api-secret"
	flagDatabasePath     = "db"
	flagSecretPassphrase = "secret-passphrase"
	flagSource           = "source"
	flagOTPPeriod        = "otp-period"
	flagOTPDigits        = "otp-digits"
	flagMaxOTPs          = "max-otps"
	flagRequestTimeout   = "request-timeout"
	flagLogLevel         = "log-level"
	flagLogFormat        = "log-format"
)

// RegisterFlags defines the configuration flags on fs. Defaults shown in
// help are the built-in ones; Load decides what actually applies.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(flagConfig, "c", "", "path to a JSON config file")
	fs.String(flagEnvFile, ".env", "path to a dotenv file")
	fs.String(flagSiteURL, "", "Nightscout site URL")
	fs.String(flagAPISecret, "", "Nightscout API secret")
	fs.String(flagDatabasePath, d.DatabasePath, "path to the local state database")
	fs.String(flagSecretPassphrase, "", "passphrase encrypting the OTP secret at rest")
	fs.String(flagSource, d.Source, "device name reported on uploaded records")
	fs.Duration(flagOTPPeriod, d.OTPPeriod, "one-time password period")
	fs.Int(flagOTPDigits, d.OTPDigits, "one-time password length")
	fs.Int(flagMaxOTPs, d.MaxOTPsToAccept, "number of most recent passwords accepted")
	fs.Duration(flagRequestTimeout, d.RequestTimeout, "HTTP request timeout")
	fs.String(flagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	fs.String(flagLogFormat, d.LogFormat, "log format: text or json")
}

// applyFlags copies only the flags the user changed, so flag defaults never
// override the environment or the JSON file.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set(flagSiteURL, func() (e error) { cfg.SiteURL, e = fs.GetString(flagSiteURL); return })
	set(flagAPISecret, func() (e error) { cfg.APISecret, e = fs.GetString(flagAPISecret); return })
	set(flagDatabasePath, func() (e error) { cfg.DatabasePath, e = fs.GetString(flagDatabasePath); return })
	set(flagSecretPassphrase, func() (e error) { cfg.SecretPassphrase, e = fs.GetString(flagSecretPassphrase); return })
	set(flagSource, func() (e error) { cfg.Source, e = fs.GetString(flagSource); return })
	set(flagOTPPeriod, func() (e error) { cfg.OTPPeriod, e = fs.GetDuration(flagOTPPeriod); return })
	set(flagOTPDigits, func() (e error) { cfg.OTPDigits, e = fs.GetInt(flagOTPDigits); return })
	set(flagMaxOTPs, func() (e error) { cfg.MaxOTPsToAccept, e = fs.GetInt(flagMaxOTPs); return })
	set(flagRequestTimeout, func() (e error) { cfg.RequestTimeout, e = fs.GetDuration(flagRequestTimeout); return })
	set(flagLogLevel, func() (e error) { cfg.LogLevel, e = fs.GetString(flagLogLevel); return })
	set(flagLogFormat, func() (e error) { cfg.LogFormat, e = fs.GetString(flagLogFormat); return })
	return err
}
