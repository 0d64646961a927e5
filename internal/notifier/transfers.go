package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
)

// FormatEvent renders a transfer outcome as a chat message.
func FormatEvent(e transfer.Event) string {
	verb := "Upload"
	if e.Descriptor.Direction == storage.Download {
		verb = "Download"
	}

	if e.Resumed {
		verb = "Resumed " + strings.ToLower(verb)
	}

	if e.Failed() {
		return fmt.Sprintf("❌ %s failed for %s: %v", verb, e.Descriptor.RemoteKey, e.Err)
	}

	return fmt.Sprintf("✅ %s finished for %s (%s)", verb, e.RemoteKey, e.Descriptor.LocalPath)
}

// Forward sends a notification for every event until events is closed.
// Delivery failures are logged and do not stop the loop. Sends ignore the
// cancellation of ctx: events emitted while shutting down are still delivered.
func Forward(ctx context.Context, n Notifier, events <-chan transfer.Event) {
	ctx = context.WithoutCancel(ctx)
	logger := logctx.LoggerFromContext(ctx)

	for e := range events {
		if n == nil {
			continue
		}

		if err := n.Notify(ctx, FormatEvent(e)); err != nil {
			logger.Error("failed to send notification",
				"direction", e.Descriptor.Direction,
				"remote_key", e.Descriptor.RemoteKey,
				"err", err,
			)
		}
	}
}
