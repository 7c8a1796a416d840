// Package config loads, normalizes, and validates meetscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEETSCRIBE_STORAGE_TOKEN and OPENAI_API_KEY. A dotenv file can be loaded
// into the environment first with LoadEnvFile. The Config type centralizes
// every knob the recorder, server, and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
