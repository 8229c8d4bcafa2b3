// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Set by the HTTP middleware (request_id) and by connections for dispatched
// calls (conn_id, interface, method).
type LoggerKey struct{}
