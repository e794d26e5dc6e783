package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/pinnotify/internal/monitoring"
)

// ChannelCounter exposes the number of registered push channels.
type ChannelCounter interface {
	Count() int
}

// Realtime is a liveness probe for the push hub. It reports the registered
// channel count and fails only when no hub is wired.
func Realtime(hub ChannelCounter) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		if hub == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "push hub unavailable"}
		}
		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d channels", hub.Count()),
		}
	})
}
