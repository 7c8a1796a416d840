// Package notifications pushes recording outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Individual events can be switched off in
// the [notifications] section of config.toml.
package notifications
