package ports

import "context"

// HealthChecker checks external dependency health.
type HealthChecker interface {
	// Ping verifies connectivity. Returns nil if healthy.
	Ping(ctx context.Context) error
	// Name returns the dependency name (e.g., "postgresql", "redis", "wallet").
	Name() string
}

// HealthCheckFunc adapts a function into a HealthChecker.
type HealthCheckFunc struct {
	Label string
	Check func(ctx context.Context) error
}

func (h HealthCheckFunc) Ping(ctx context.Context) error { return h.Check(ctx) }

func (h HealthCheckFunc) Name() string { return h.Label }
