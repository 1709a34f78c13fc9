package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/decksync/internal/sse"
	"github.com/iudanet/decksync/pkg/api"
)

// DefaultHeartbeat is how often an idle stream sends a keep-alive comment.
const DefaultHeartbeat = 15 * time.Second

// Serve writes tagged events to w until events is closed or ctx is done.
// A heartbeat comment is written whenever the stream has been idle for heartbeat.
// It returns the first write error.
func Serve(ctx context.Context, w *sse.Writer, events <-chan api.TaggedEvent, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	if err := w.Comment("connected"); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.JSON(ev); err != nil {
				return fmt.Errorf("failed to send %s event for %s: %w", ev.Event.Kind, ev.Entity, err)
			}
			ticker.Reset(heartbeat)
		case <-ticker.C:
			if err := w.Comment("ping"); err != nil {
				return err
			}
		}
	}
}
