// Package config loads runtime configuration for the nightscout command.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A dotenv file (--env-file, default ".env") and the process
//     environment, NIGHTSCOUT_* variables. The environment wins over the file.
//  3. Optional JSON file selected with --config or NIGHTSCOUT_CONFIG.
//  4. Command-line flags the user actually set.
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "30s" or
// integer nanoseconds. Absent or zero fields leave earlier values alone:
//
//	{
//	  "site_url": "https://my-site.herokuapp.com",
//	  "api_secret": "changeme",
//	  "database_path": "nightscout.db",
//	  "otp_period": "30s",
//	  "max_otps_to_accept": 2,
//	  "request_timeout": "30s",
//	  "log_level": "info"
//	}
package config
