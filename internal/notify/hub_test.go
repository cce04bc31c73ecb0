// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package notify

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(10)
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(Notification{Severity: SeverityWarning, ComponentID: "whisper", UserMessage: "voice input unavailable"})

	for _, ch := range []<-chan Notification{a, b} {
		n := recv(t, ch)
		if n.ComponentID != "whisper" || n.Severity != SeverityWarning {
			t.Fatalf("unexpected notification: %+v", n)
		}
		if n.Timestamp.IsZero() {
			t.Fatal("timestamp was not stamped")
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub(100)
	ch, cancel := h.Subscribe()
	defer cancel()

	// Overfill the buffer without draining.
	for i := 0; i < 40; i++ {
		h.Publish(Notification{Severity: SeverityInfo, ComponentID: "m", UserMessage: "n"})
	}

	// Publisher must not have blocked; channel holds at most its capacity.
	if got := len(ch); got > 16 {
		t.Fatalf("subscriber buffer grew to %d", got)
	}
}

func TestPublishOnceDedups(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	n := Notification{Severity: SeverityCritical, ComponentID: "system", UserMessage: "memory critically low"}
	if !h.PublishOnce("mem_pct:critical", n) {
		t.Fatal("first PublishOnce should deliver")
	}
	if h.PublishOnce("mem_pct:critical", n) {
		t.Fatal("second PublishOnce for same key should be suppressed")
	}
	recv(t, ch)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected duplicate delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	h.ClearOnce("mem_pct:critical")
	if !h.PublishOnce("mem_pct:critical", n) {
		t.Fatal("PublishOnce after ClearOnce should deliver again")
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHub(5)
	for i := 0; i < 12; i++ {
		h.Publish(Notification{Severity: SeverityInfo, ComponentID: "c", UserMessage: "m"})
	}
	if got := len(h.History()); got != 5 {
		t.Fatalf("history length = %d, want 5", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub(5)
	_, cancel := h.Subscribe()
	cancel()
	cancel()
	// Publishing after cancel must not reach the removed subscriber.
	h.Publish(Notification{Severity: SeverityInfo, ComponentID: "c", UserMessage: "m"})
}
