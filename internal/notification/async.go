package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sendTimeout = 5 * time.Second

// Async delivers through next on a background goroutine. Send never blocks
// and never fails; a full buffer drops the message with a warning.
type Async struct {
	next   Notifier
	logger *slog.Logger
	queue  chan Message

	once sync.Once
	done chan struct{}
}

// NewAsync starts the delivery goroutine.
func NewAsync(next Notifier, logger *slog.Logger, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan Message, buffer),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Send(_ context.Context, message Message) error {
	select {
	case <-a.done:
		a.logger.Warn("notification dropped after close", "kind", message.Kind, "payment_id", message.PaymentID)
		return nil
	default:
	}
	select {
	case a.queue <- message:
	default:
		a.logger.Warn("notification queue full, dropping", "kind", message.Kind, "payment_id", message.PaymentID)
	}
	return nil
}

// Close stops accepting messages and delivers what is buffered.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.done)
	})
}

func (a *Async) loop() {
	for {
		select {
		case m := <-a.queue:
			a.deliver(m)
		case <-a.done:
			for {
				select {
				case m := <-a.queue:
					a.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := a.next.Send(ctx, m); err != nil {
		a.logger.Warn("notification delivery failed", "kind", m.Kind, "payment_id", m.PaymentID, "error", err)
	}
}
