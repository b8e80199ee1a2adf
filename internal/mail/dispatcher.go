package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	queueSize    = 128
	sendAttempts = 3
	sendTimeout  = 30 * time.Second
	baseBackoff  = 2 * time.Second
)

// Dispatcher delivers messages asynchronously: callers enqueue after their
// transaction commits and move on. Each message gets a bounded number of
// attempts with increasing backoff; a message that exhausts them is dropped
// with a log line. This is deliberate at-most-once delivery: the resend
// endpoint exists precisely so a lost mail is recoverable by the user.
type Dispatcher struct {
	relay  Relay
	logger *slog.Logger

	queue chan Message
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts the delivery worker. Call Close during shutdown to
// drain the queue.
func NewDispatcher(relay Relay, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		relay:  relay,
		logger: logger,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands a message to the worker. If the queue is full the message is
// dropped immediately, better than stalling a request handler on mail. After
// Close the message is dropped the same way; sending on the closed queue
// would panic.
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("mail dispatcher closed, dropping message",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("mail queue full, dropping message",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
	}
}

// Close stops accepting messages, drains what is queued, and waits for the
// worker to finish. Safe to call once; later Enqueues become no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := d.relay.Send(ctx, msg)
		cancel()
		if err == nil {
			d.logger.Info("mail delivered",
				slog.String("to", msg.To),
				slog.String("subject", msg.Subject),
			)
			return
		}

		d.logger.Warn("mail delivery failed",
			slog.String("to", msg.To),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == sendAttempts {
			break
		}
		select {
		case <-d.done:
			// Shutting down: don't sit in backoff, move on.
			return
		case <-time.After(time.Duration(attempt) * baseBackoff):
		}
	}

	d.logger.Error("mail delivery abandoned",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
}
