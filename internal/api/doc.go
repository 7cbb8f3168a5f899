// Package api defines the transport-friendly view types served over HTTP
// and consumed by the CLI, plus the conversions from the engine's domain
// types into them.
package api
