package notifications

import (
	"context"
	"sync"

	"github.com/servimap/servimap/internal/app/domain/notification"
)

const defaultSubscriberBuffer = 16

// Hub is an in-process Broker. Slow subscribers drop messages rather than
// block publishers; the inbox remains the source of truth.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan notification.Notification]struct{}
	buffer int
}

var _ Broker = (*Hub)(nil)

// NewHub creates a hub whose subscriber channels hold buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: make(map[string]map[chan notification.Notification]struct{}), buffer: buffer}
}

func (h *Hub) Publish(_ context.Context, n notification.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, error) {
	ch := make(chan notification.Notification, h.buffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan notification.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Subscribers reports the live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
