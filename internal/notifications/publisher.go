package notifications

import (
	"context"
	"log/slog"
	"time"

	"bindery/internal/conversion"
	"bindery/internal/logging"
)

// EventNotifier bridges conversion status events to user notifications. Only
// terminal events notify; progress updates stay in logs and on the bus.
type EventNotifier struct {
	service Service
	logger  *slog.Logger
	timeout time.Duration
}

// NewEventNotifier wraps a notification service as an event publisher.
func NewEventNotifier(service Service, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{
		service: service,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: 10 * time.Second,
	}
}

// Publish sends a notification for terminal events. Delivery failures are
// logged and never surfaced to the conversion pipeline.
func (n *EventNotifier) Publish(event conversion.Event) {
	if n == nil || n.service == nil || !event.Status.Terminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	var err error
	switch event.Status {
	case conversion.StatusCompleted:
		err = n.service.NotifyConversionCompleted(ctx, event.AudiobookTitle, "")
	case conversion.StatusFailed:
		err = n.service.NotifyConversionFailed(ctx, event.AudiobookTitle, event.Error)
	case conversion.StatusCancelled:
		err = n.service.NotifyConversionCancelled(ctx, event.AudiobookTitle)
	}
	if err != nil {
		n.logger.Warn("notification delivery failed",
			logging.String("job_id", event.JobID),
			logging.Error(err),
		)
	}
}
