package checks

import (
	"context"
	"time"

	"github.com/charlesng35/pinnotify/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Pinger is satisfied by the Redis counter store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Redis returns a readiness probe for a Redis-backed component. A nil client
// means the component runs without Redis and the probe reports up.
func Redis(name string, client Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRedisTimeout))
		defer cancel()

		return monitoring.ResultFromError(name, client.Ping(probeCtx), time.Since(start))
	})
}
