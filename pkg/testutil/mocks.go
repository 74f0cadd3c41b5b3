// Package testutil provides test doubles shared by service tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/geo"
)

// RecordingNotifier captures delivered notifications.
type RecordingNotifier struct {
	mu    sync.Mutex
	items []notification.Notification
}

// Deliver records items in order.
func (r *RecordingNotifier) Deliver(_ context.Context, items ...notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

// Items returns a copy of everything delivered so far.
func (r *RecordingNotifier) Items() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// For returns the notifications delivered to userID.
func (r *RecordingNotifier) For(userID string) []notification.Notification {
	var out []notification.Notification
	for _, n := range r.Items() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// ErrNearbyUnsupported is returned by MockLocator.Nearby when no result was
// configured.
var ErrNearbyUnsupported = errors.New("mock locator: nearby not configured")

// MockLocator records index updates and serves a fixed Nearby result.
type MockLocator struct {
	mu      sync.RWMutex
	updates map[string]bool
	nearby  []string
}

// NewMockLocator returns a locator whose Nearby yields ids. With no ids
// Nearby fails.
func NewMockLocator(ids ...string) *MockLocator {
	return &MockLocator{updates: make(map[string]bool), nearby: ids}
}

// Nearby returns the configured ids regardless of point and radius.
func (m *MockLocator) Nearby(context.Context, geo.Point, float64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.nearby == nil {
		return nil, ErrNearbyUnsupported
	}
	return append([]string(nil), m.nearby...), nil
}

// Update records the latest readiness for providerID.
func (m *MockLocator) Update(_ context.Context, providerID string, _ geo.Point, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[providerID] = ready
	return nil
}

// Indexed reports the last readiness recorded for providerID and whether any
// update was seen.
func (m *MockLocator) Indexed(providerID string) (ready, seen bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ready, seen = m.updates[providerID]
	return ready, seen
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
