package broadcast

import (
	"context"
	"sync"

	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 64

// MemoryBus delivers events within one process
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus(metrics *middleware.Metrics, logger *logrus.Logger) *MemoryBus {
	return &MemoryBus{
		subs:    make(map[int]chan Event),
		metrics: metrics,
		logger:  logger,
	}
}

// Publish hands event to every subscriber without blocking. A subscriber
// whose buffer is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"type":       event.Type(),
			}).Warn("Subscriber is full, dropping event")
		}
	}
	recordPublish(b.metrics, event)
	return nil
}

// Subscribe registers a subscriber until ctx is done
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}()

	return ch, nil
}

// Close closes every subscriber channel
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
