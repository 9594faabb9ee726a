package conversion

import (
	"log/slog"

	"bindery/internal/logging"
)

// EventKind tags every conversion status event.
const EventKind = "conversion"

// Event is the status record published after every job mutation.
type Event struct {
	Kind           string `json:"kind"`
	Status         Status `json:"status"`
	JobID          string `json:"job_id"`
	AudiobookID    string `json:"audiobook_id"`
	AudiobookTitle string `json:"audiobook_title"`
	Progress       int    `json:"progress"`
	Message        string `json:"message"`
	Error          string `json:"error,omitempty"`
}

// Publisher delivers status events to the real-time transport. Delivery is
// fire-and-forget: implementations must not block on slow consumers, and
// publish failures never propagate back into job state.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(event Event) { f(event) }

// NopPublisher discards all events.
func NopPublisher() Publisher {
	return PublisherFunc(func(Event) {})
}

// MultiPublisher fans one event out to several sinks in order.
func MultiPublisher(publishers ...Publisher) Publisher {
	sinks := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			sinks = append(sinks, p)
		}
	}
	return PublisherFunc(func(event Event) {
		for _, sink := range sinks {
			sink.Publish(event)
		}
	})
}

// NewLogPublisher writes each event to the logger; terminal states log at
// info, progress updates at debug.
func NewLogPublisher(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return PublisherFunc(func(event Event) {
		attrs := []logging.Attr{
			logging.String("job_id", event.JobID),
			logging.String("audiobook_id", event.AudiobookID),
			logging.String("status", string(event.Status)),
			logging.Int("progress", event.Progress),
			logging.String("message", event.Message),
		}
		if event.Error != "" {
			attrs = append(attrs, logging.String("error", event.Error))
		}
		if event.Status.Terminal() {
			logger.Info("conversion status", logging.Args(attrs...)...)
			return
		}
		logger.Debug("conversion status", logging.Args(attrs...)...)
	})
}

func eventFor(job Job) Event {
	return Event{
		Kind:           EventKind,
		Status:         job.Status,
		JobID:          job.ID,
		AudiobookID:    job.AudiobookID,
		AudiobookTitle: job.AudiobookTitle,
		Progress:       job.Progress,
		Message:        job.Message,
		Error:          job.Error,
	}
}
