// Package cli implements the nightscout command: one-time password
// management for remote commands, Nightscout credential checks and uploads
// of local changes.
//
// Every command except version opens the local state database, so that the
// password secret and the object id cache persist across invocations.
package cli
