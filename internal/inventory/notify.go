package inventory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const notifyTimeout = 5 * time.Second

type notification struct {
	name string
	fn   func(context.Context) error
}

// notifier delivers post-commit side effects on a background goroutine.
// Enqueue never blocks: when the queue is full the notification is dropped
// and logged.
type notifier struct {
	logger  *slog.Logger
	metrics *Metrics
	queue   chan notification

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newNotifier(logger *slog.Logger, metrics *Metrics, buffer int) *notifier {
	if buffer <= 0 {
		buffer = 256
	}
	n := &notifier{
		logger:  logger,
		metrics: metrics,
		queue:   make(chan notification, buffer),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) enqueue(name string, fn func(context.Context) error) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- notification{name: name, fn: fn}:
		return true
	default:
		n.logger.Warn("notification dropped", slog.String("name", name))
		n.metrics.notificationDropped(name)
		return false
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for item := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := item.fn(ctx); err != nil {
			n.logger.Warn("notification failed", slog.String("name", item.name), slog.Any("error", err))
			n.metrics.notificationFailed(item.name)
		}
		cancel()
	}
}

// close stops intake and waits until queued notifications are delivered.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}
