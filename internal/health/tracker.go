// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package health

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tracker owns the per-component health state machines. It is constructed
// once and injected into every component that reports or reads health; there
// is no package-level singleton.
type Tracker struct {
	config Config

	mu         sync.RWMutex
	components map[string]*entry

	listenerMu sync.RWMutex
	listeners  []TransitionListener
}

// entry is one component's state plus its own lock, so different components
// can be updated fully in parallel.
type entry struct {
	mu     sync.Mutex
	health ComponentHealth
	// errorSince is set when the component entered the error state
	errorSince time.Time
}

// NewTracker creates a tracker with the given thresholds.
func NewTracker(config Config) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.UnavailableThreshold <= config.DegradedThreshold {
		config.UnavailableThreshold = config.DegradedThreshold * 2
	}
	if config.ErrorCooldown <= 0 {
		config.ErrorCooldown = DefaultConfig().ErrorCooldown
	}

	return &Tracker{
		config:     config,
		components: make(map[string]*entry),
	}
}

// AddListener registers a transition listener.
func (t *Tracker) AddListener(l TransitionListener) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Register seeds a component record from a probe outcome. A successful probe
// starts the component available; a failed probe starts it unavailable with
// the probe's diagnostic as reason.
func (t *Tracker) Register(componentID string, available bool, reason string) {
	e := t.entryFor(componentID)

	e.mu.Lock()
	prev := e.health.State
	now := time.Now()
	if available {
		e.health.State = StateAvailable
		e.health.ConsecutiveFailures = 0
		e.health.LastSuccess = now
		e.health.Reason = reason
	} else {
		e.health.State = StateUnavailable
		e.health.LastFailure = now
		e.health.Reason = reason
	}
	next := e.health.State
	e.mu.Unlock()

	if prev != next {
		t.emit(Transition{ComponentID: componentID, From: prev, To: next, Reason: reason, Timestamp: now})
	}
}

// ReportSuccess resets the failure counter and returns the component to
// available, except from the error state inside the cooldown window, which
// requires an explicit Reset.
func (t *Tracker) ReportSuccess(componentID string) {
	e := t.entryFor(componentID)

	e.mu.Lock()
	now := time.Now()
	prev := e.health.State

	if prev == StateError && now.Sub(e.errorSince) < t.config.ErrorCooldown {
		// Error is sticky until the cooldown elapses.
		e.health.LastSuccess = now
		e.mu.Unlock()
		return
	}

	e.health.ConsecutiveFailures = 0
	e.health.State = StateAvailable
	e.health.LastSuccess = now
	e.health.Reason = ""
	e.errorSince = time.Time{}
	e.mu.Unlock()

	if prev != StateAvailable {
		log.Debugf("Component %s recovered from %s", componentID, prev)
		t.emit(Transition{ComponentID: componentID, From: prev, To: StateAvailable, Reason: "reported success", Timestamp: now})
	}
}

// ReportFailure increments the failure counter and applies the threshold
// transitions. A fatal kind moves the component directly to the error state
// regardless of counters.
func (t *Tracker) ReportFailure(componentID string, kind FailureKind, reason string) {
	e := t.entryFor(componentID)

	e.mu.Lock()
	now := time.Now()
	prev := e.health.State
	e.health.LastFailure = now
	e.health.Reason = reason

	switch kind {
	case FailureFatal:
		e.health.State = StateError
		e.errorSince = now
	case FailureResource:
		e.health.ConsecutiveFailures++
		if prev != StateError {
			e.health.State = StateUnavailable
		}
	default:
		e.health.ConsecutiveFailures++
		switch {
		case prev == StateError:
			// Counters do not move a component out of error.
		case e.health.ConsecutiveFailures >= t.config.UnavailableThreshold:
			e.health.State = StateUnavailable
		case e.health.ConsecutiveFailures >= t.config.DegradedThreshold:
			if prev == StateAvailable || prev == StateDegraded {
				e.health.State = StateDegraded
			}
		}
	}
	next := e.health.State
	e.mu.Unlock()

	if prev != next {
		log.Warnf("Component %s transitioned %s -> %s: %s", componentID, prev, next, reason)
		t.emit(Transition{ComponentID: componentID, From: prev, To: next, Reason: reason, Timestamp: now})
	}
}

// Reset clears counters and returns the component to available. Used after
// an explicit re-probe succeeds or after the error cooldown elapses.
func (t *Tracker) Reset(componentID string) {
	e := t.entryFor(componentID)

	e.mu.Lock()
	now := time.Now()
	prev := e.health.State
	e.health.State = StateAvailable
	e.health.ConsecutiveFailures = 0
	e.health.Reason = ""
	e.errorSince = time.Time{}
	e.mu.Unlock()

	if prev != StateAvailable {
		log.Infof("Component %s reset from %s", componentID, prev)
		t.emit(Transition{ComponentID: componentID, From: prev, To: StateAvailable, Reason: "manual reset", Timestamp: now})
	}
}

// State returns a read-only snapshot for one component. Unknown components
// report as available so that a provider never configured with a probe is
// still attempted.
func (t *Tracker) State(componentID string) ComponentHealth {
	t.mu.RLock()
	e, ok := t.components[componentID]
	t.mu.RUnlock()

	if !ok {
		return ComponentHealth{ComponentID: componentID, State: StateAvailable}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// Routable reports whether the executor should attempt the component.
func (t *Tracker) Routable(componentID string) bool {
	s := t.State(componentID).State
	return s == StateAvailable || s == StateDegraded
}

// Snapshot returns a copy of every component's health, keyed by id.
func (t *Tracker) Snapshot() map[string]ComponentHealth {
	t.mu.RLock()
	ids := make([]string, 0, len(t.components))
	for id := range t.components {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	result := make(map[string]ComponentHealth, len(ids))
	for _, id := range ids {
		result[id] = t.State(id)
	}
	return result
}

func (t *Tracker) entryFor(componentID string) *entry {
	t.mu.RLock()
	e, ok := t.components[componentID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.components[componentID]; ok {
		return e
	}
	e = &entry{health: ComponentHealth{ComponentID: componentID, State: StateAvailable}}
	t.components[componentID] = e
	return e
}

func (t *Tracker) emit(tr Transition) {
	t.listenerMu.RLock()
	listeners := make([]TransitionListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.listenerMu.RUnlock()

	for _, l := range listeners {
		l(tr)
	}
}
