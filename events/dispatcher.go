package events

import (
	"context"
	"log/slog"
)

// Sender delivers one payload and returns the acknowledgement.
type Sender interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
}

// Dispatcher drains a bounded queue of outbound events through the
// sender, one at a time. Failed deliveries are logged and dropped; the
// at-least-once guarantee sits with the originating command's
// redelivery, not with automatic re-sends that could duplicate side
// effects downstream.
type Dispatcher struct {
	sender Sender
	queue  chan *Event
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(sender Sender, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan *Event, queueSize),
		logger: logger,
	}
}

// Enqueue submits an event for delivery without blocking. It reports
// false when the queue is full.
func (d *Dispatcher) Enqueue(event *Event) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Error("Event queue full, dropping event", "event_type", event.Type)
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) {
	ack, err := d.sender.Send(ctx, event.Payload)
	if err != nil {
		d.logger.Error("Event delivery failed",
			"event_type", event.Type,
			"error", err)
		return
	}

	d.logger.Info("Event delivered",
		"event_type", event.Type,
		"ack", string(ack))
}
