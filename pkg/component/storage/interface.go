// Package storage defines the common contract for backing-store clients
// (redis, relational database) and a registry that health-checks and closes
// them together during application lifecycle events.
package storage

import (
	"context"
	"time"
)

// Client is the base interface every storage client implements.
type Client interface {
	// Name returns the storage type identifier, e.g. "redis" or "database".
	Name() string

	// Ping verifies connectivity with a lightweight round trip.
	Ping(ctx context.Context) error

	// Close releases the underlying connection resources.
	Close() error

	// Health returns a checker bound to this client.
	Health() HealthChecker
}

// HealthChecker probes a client and returns nil when it is reachable.
type HealthChecker func() error

// HealthStatus is the result of a single client health check.
type HealthStatus struct {
	// Name is the client name as registered with the manager.
	Name string `json:"name"`

	// Healthy reports whether the ping succeeded.
	Healthy bool `json:"healthy"`

	// Latency is the observed ping round-trip time.
	Latency time.Duration `json:"latency"`

	// Error holds the failure cause, nil when healthy.
	Error error `json:"error,omitempty"`
}

// Factory creates storage clients from pre-bound configuration.
type Factory interface {
	Create(ctx context.Context) (Client, error)
}
