// Package preflight provides readiness checks for the external services and
// filesystem paths that meetscribe depends on.
//
// The CLI "meetscribe preflight" command renders RunAll as a table, and
// "meetscribe serve" refuses to start when a check fails.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
