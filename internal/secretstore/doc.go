// Package secretstore persists the OTP secret material in the local
// database's metadata table.
//
// Values may be sealed with a passphrase-derived key (see cryptox). The salt
// is stored next to them under SaltKey and created on first use.
package secretstore
