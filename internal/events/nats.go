package events

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bindery/internal/conversion"
	"bindery/internal/logging"
)

// Bus publishes conversion status events to NATS for external consumers
// such as the library scanner.
type Bus struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the NATS server and returns a bus bound to subject. An empty
// URL disables the bus and returns nil without error.
func Connect(url, subject string, logger *slog.Logger) (*Bus, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, nil
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "bindery.conversion"
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{
		nc:      nc,
		subject: subject,
		logger:  logging.NewComponentLogger(logger, "events"),
	}, nil
}

// Close drains the connection, flushing buffered publishes.
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	_ = b.nc.Drain()
}

// Publish sends the event as JSON. Publishing is fire-and-forget: failures
// are logged and never block or fail a conversion.
func (b *Bus) Publish(event conversion.Event) {
	if b == nil || b.nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("marshal event", logging.Error(err))
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		b.logger.Warn("publish event",
			logging.String("subject", b.subject),
			logging.Error(err),
		)
	}
}
