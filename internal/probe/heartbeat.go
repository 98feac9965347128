package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hostping/hostping/internal/eventbus"
)

// HeartbeatText is the fixed message emitted by Heartbeat.
const HeartbeatText = "checking connectivity"

// Heartbeat publishes HeartbeatText count times, waiting interval after each.
// It exercises the stream plumbing without touching any host.
func Heartbeat(ctx context.Context, pub Publisher, interval time.Duration, count int) error {
	for i := 0; i < count; i++ {
		if err := pub.Publish(eventbus.NewMessage(eventbus.SeverityInfo, HeartbeatText)); err != nil {
			return fmt.Errorf("publish heartbeat: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil
}
