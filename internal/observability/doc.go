// Package observability provides structured logging and metrics
// for the identity authority.
//
// This package implements:
//   - zap logger construction from configuration
//   - Prometheus collectors for HTTP traffic, authorization decisions,
//     credential lifecycle and audit delivery
package observability
