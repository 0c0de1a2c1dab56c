// Package config loads the VaultGuard daemon configuration from a JSON file,
// fills defaults, resolves relative paths against the file's directory, and
// reads secrets from environment variables referenced by the *_env fields.
package config
