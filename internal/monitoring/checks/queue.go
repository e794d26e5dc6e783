package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/charlesng35/pinnotify/internal/monitoring"
)

// QueueInspector is the subset of asynq.Inspector used by the bus probe.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Queue reports whether the owned partition queues are reachable. A paused
// queue degrades readiness because its notifications stop flowing.
func Queue(inspector QueueInspector, queues []string) monitoring.Check {
	return monitoring.NewCheck("queue", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if inspector == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "queue consumer disabled"}
		}

		var backlog int
		for _, name := range queues {
			if err := ctx.Err(); err != nil {
				return monitoring.ResultFromError("queue", err, time.Since(start))
			}
			info, err := inspector.GetQueueInfo(name)
			if err != nil {
				// A queue that never received a task does not exist yet.
				if errors.Is(err, asynq.ErrQueueNotFound) {
					continue
				}
				return monitoring.ResultFromError("queue", fmt.Errorf("%s: %w", name, err), time.Since(start))
			}
			if info.Paused {
				return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: name + " paused"}
			}
			backlog += info.Pending
		}

		return monitoring.ProbeResult{
			Status:  monitoring.StatusUp,
			Details: fmt.Sprintf("%d pending", backlog),
		}
	})
}
