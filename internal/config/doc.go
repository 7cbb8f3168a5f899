// Package config loads, validates, and defaults storyloom's TOML
// configuration. Unknown keys are rejected at parse time so typos surface
// immediately instead of silently falling back to defaults.
package config
