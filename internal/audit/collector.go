package audit

import (
	"context"
	"log/slog"

	"github.com/nyffc/contractor-linkage/pkg/kafka"
)

// Collector buffers match events and publishes them to Kafka off the request
// path. Events are dropped rather than blocking a query when the buffer is
// full.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan MatchEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan MatchEvent, bufferSize),
		logger:   slog.Default().With("component", "audit-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop. It drains buffered events on ctx
// cancellation before returning.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("audit collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event without blocking.
func (c *Collector) Track(event MatchEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("audit event dropped (buffer full)")
	}
}

// Close stops the publish loop after the buffer empties.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event MatchEvent) {
	if err := c.producer.Publish(ctx, kafka.Event{
		Key:   string(event.Type),
		Value: event,
	}); err != nil {
		c.logger.Error("failed to publish audit event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
