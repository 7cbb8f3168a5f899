// Package logging wraps log/slog with the attribute helpers, field naming
// conventions, and handler construction shared across storyloom. Every
// component logs through a *slog.Logger built here so run IDs, phases, and
// correlation IDs stay queryable in both console and JSON output.
package logging
