// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package notify carries user-facing notifications out of the core over an
// explicit subscription stream, so no component here ever calls into a UI
// framework directly.
package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Severity tags a notification for UI presentation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is the only user-facing signal the core emits besides
// download progress.
type Notification struct {
	// Severity is info, warning or critical
	Severity Severity `json:"severity"`

	// ComponentID names the affected component
	ComponentID string `json:"component_id"`

	// UserMessage is safe to render verbatim to end users
	UserMessage string `json:"user_message"`

	// TechnicalDetail carries diagnostics for logs and support
	TechnicalDetail string `json:"technical_detail,omitempty"`

	// Timestamp is when the notification was created
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans notifications out to subscribers. Subscriber channels are
// buffered; when a subscriber falls behind, its oldest pending notification
// is dropped rather than blocking the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int]chan Notification
	nextID      int

	history    []Notification
	historyCap int

	// onceKeys dedups notifications for ongoing conditions (e.g. a memory
	// breach that persists across samples).
	onceKeys map[string]struct{}
}

// NewHub creates a hub that retains the last historyCap notifications for
// late subscribers and the diagnostics endpoint.
func NewHub(historyCap int) *Hub {
	if historyCap <= 0 {
		historyCap = 50
	}
	return &Hub{
		subscribers: make(map[int]chan Notification),
		historyCap:  historyCap,
		onceKeys:    make(map[string]struct{}),
	}
}

// Publish delivers a notification to every subscriber and appends it to the
// retained history.
func (h *Hub) Publish(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, n)
	if len(h.history) > h.historyCap {
		h.history = h.history[len(h.history)-h.historyCap:]
	}
	subs := make([]chan Notification, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	log.WithFields(log.Fields{"component": n.ComponentID, "severity": n.Severity}).Info(n.UserMessage)

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			// Slow subscriber: drop its oldest pending entry and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// PublishOnce publishes only if key has not been published since its last
// clear. Returns true when the notification was actually delivered.
func (h *Hub) PublishOnce(key string, n Notification) bool {
	h.mu.Lock()
	if _, seen := h.onceKeys[key]; seen {
		h.mu.Unlock()
		return false
	}
	h.onceKeys[key] = struct{}{}
	h.mu.Unlock()

	h.Publish(n)
	return true
}

// ClearOnce forgets a dedup key so the next PublishOnce for it delivers
// again. Called when an ongoing condition ends.
func (h *Hub) ClearOnce(key string) {
	h.mu.Lock()
	delete(h.onceKeys, key)
	h.mu.Unlock()
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel. The channel is never closed; callers stop
// reading when their own context ends.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
	return ch, cancel
}

// History returns a copy of the retained notifications, oldest first.
func (h *Hub) History() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.history))
	copy(out, h.history)
	return out
}
