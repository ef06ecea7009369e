package notifications

import (
	"context"
	"log/slog"
	"time"

	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Bridge forwards queue events to the notification service so engines stay
// unaware of ntfy. Delivery is best effort; send failures are logged and
// dropped.
type Bridge struct {
	service Service
	logger  *slog.Logger
	timeout time.Duration
}

// NewBridge builds a bridge around service.
func NewBridge(service Service, logger *slog.Logger) *Bridge {
	return &Bridge{
		service: service,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: 10 * time.Second,
	}
}

// Attach subscribes the bridge to bus and returns the unsubscribe function.
func (b *Bridge) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.HandlerFunc(b.handle))
}

func (b *Bridge) handle(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var err error
	switch {
	case evt.Type == events.EventSyncStarted:
		err = b.service.NotifySyncStarted(ctx, string(evt.Family), evt.Count)
	case evt.Type == events.EventSyncCompleted:
		err = b.service.NotifySyncCompleted(ctx, string(evt.Family), evt.Count)
	case evt.Type == events.EventSyncError && evt.LocalID != "":
		err = b.service.NotifyItemFailed(ctx, string(evt.Family), evt.LocalID, evt.Error)
	case evt.Type == events.EventStateChanged && evt.Family == queue.FamilyTask && evt.State == queue.StateReview:
		err = b.service.NotifyReviewReady(ctx, evt.LocalID)
	default:
		return
	}
	if err != nil {
		b.logger.Warn("notification delivery failed",
			logging.String(logging.FieldEventType, string(evt.Type)),
			logging.String(logging.FieldFamily, string(evt.Family)),
			logging.Error(err),
		)
	}
}
