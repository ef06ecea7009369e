// Package config loads, normalizes, and validates fieldsync configuration.
//
// Configuration is a single TOML file with repository defaults applied for
// every unset value, so a missing config file is valid. Directory fields are
// tilde-expanded during Normalize and the owning directories are created on
// demand via EnsureDirectories.
package config
