// internal/overlay/bus.go
package overlay

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Bus fans overlay events out to UI subscribers. Delivery is best-effort:
// a subscriber whose buffer is full loses the event rather than stalling
// the control loop.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers []chan schemas.OverlayEvent

	dropped atomic.Uint64

	shutdownOnce sync.Once
	isShutdown   bool
}

// NewBus initializes the overlay bus. bufferSize is the per-subscriber
// channel capacity.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Bus{
		logger:     logger.Named("overlay_bus"),
		bufferSize: bufferSize,
	}
}

// Publish delivers an event to every current subscriber without blocking.
func (b *Bus) Publish(ev schemas.OverlayEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isShutdown {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Dropping overlay event for slow subscriber",
				zap.String("type", string(ev.Type)))
		}
	}
}

// Subscribe registers a new listener. The returned cancel function removes
// the subscription; the channel is closed by the bus on Shutdown or cancel.
func (b *Bus) Subscribe() (<-chan schemas.OverlayEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		closed := make(chan schemas.OverlayEvent)
		close(closed)
		return closed, func() {}
	}

	ch := make(chan schemas.OverlayEvent, b.bufferSize)
	b.subscribers = append(b.subscribers, ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subscribers {
				if sub == ch {
					copy(b.subscribers[i:], b.subscribers[i+1:])
					b.subscribers = b.subscribers[:len(b.subscribers)-1]
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Shutdown closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.isShutdown = true
		for _, ch := range b.subscribers {
			close(ch)
		}
		b.subscribers = nil

		if n := b.dropped.Load(); n > 0 {
			b.logger.Debug("Overlay events dropped over bus lifetime", zap.Uint64("count", n))
		}
	})
}
