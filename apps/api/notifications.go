package main

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	eventNotification    = "notification"
	eventNotificationEnd = "notification_cleared"
	eventAddressResolved = "address_resolved"

	subscriberBuffer = 16
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionEvent is pushed to every stream subscriber of a workspace.
type SessionEvent struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	Address      string        `json:"address,omitempty"`
}

// Notifier holds at most one visible toast. A newer message replaces the
// current one and its expiry timer.
type Notifier struct {
	clock clock.Clock

	mu          sync.Mutex
	current     *Notification
	timer       *clock.Timer
	subscribers map[int]chan SessionEvent
	nextSubID   int
	closed      bool
}

func NewNotifier(clk clock.Clock) *Notifier {
	return &Notifier{
		clock:       clk,
		subscribers: make(map[int]chan SessionEvent),
	}
}

func (n *Notifier) Publish(message string, ttl time.Duration) Notification {
	now := n.clock.Now()
	notification := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return notification
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.current = &notification
	id := notification.ID
	n.timer = n.clock.AfterFunc(ttl, func() { n.expire(id) })
	n.broadcastLocked(SessionEvent{Type: eventNotification, Notification: &notification})
	return notification
}

func (n *Notifier) expire(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil || n.current.ID != id {
		return
	}
	expired := *n.current
	n.current = nil
	n.timer = nil
	n.broadcastLocked(SessionEvent{Type: eventNotificationEnd, Notification: &expired})
}

// Current returns the visible toast, if any.
func (n *Notifier) Current() *Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	current := *n.current
	return &current
}

func (n *Notifier) Broadcast(event SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcastLocked(event)
}

// Slow subscribers miss events rather than stall the publisher.
func (n *Notifier) broadcastLocked(event SessionEvent) {
	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (n *Notifier) Subscribe() (<-chan SessionEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan SessionEvent, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.nextSubID
	n.nextSubID++
	n.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subscribers[id]; ok {
				delete(n.subscribers, id)
				close(sub)
			}
		})
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	for id, ch := range n.subscribers {
		delete(n.subscribers, id)
		close(ch)
	}
}
