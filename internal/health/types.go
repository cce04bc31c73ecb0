// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package health tracks the live availability of every pluggable component
// (remote APIs, local inference engines, audio codecs). It is the single
// source of truth the fallback executor queries before routing work.
package health

import (
	"time"
)

// State represents the availability of a component.
type State string

const (
	// StateAvailable indicates the component is fully operational
	StateAvailable State = "available"

	// StateDegraded indicates repeated failures but the component is still attempted
	StateDegraded State = "degraded"

	// StateUnavailable indicates the component is skipped until a probe or reset succeeds
	StateUnavailable State = "unavailable"

	// StateError indicates an unexpected non-network fault; cleared only by
	// an explicit reset or a success after the cooldown window
	StateError State = "error"
)

// FailureKind distinguishes how a failure affects the state machine.
type FailureKind string

const (
	// FailureTransient counts toward the degraded/unavailable thresholds
	FailureTransient FailureKind = "transient"

	// FailureResource transitions the component directly to unavailable.
	// Unlike fatal, the component recovers on the next success or probe.
	FailureResource FailureKind = "resource"

	// FailureFatal transitions the component directly to the error state
	FailureFatal FailureKind = "fatal"
)

// ComponentHealth is a read-only snapshot of one component's state.
type ComponentHealth struct {
	// ComponentID identifies the component
	ComponentID string `json:"component_id"`

	// State is the current availability state
	State State `json:"state"`

	// ConsecutiveFailures counts failures since the last success
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastSuccess is when the component last succeeded (zero if never)
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFailure is when the component last failed (zero if never)
	LastFailure time.Time `json:"last_failure,omitempty"`

	// Reason is a human-readable explanation for the current state
	Reason string `json:"reason,omitempty"`
}

// Transition describes a state change, delivered to registered listeners.
type Transition struct {
	ComponentID string    `json:"component_id"`
	From        State     `json:"from"`
	To          State     `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TransitionListener receives state transitions. Listeners are invoked
// outside the per-component lock and must not block for long.
type TransitionListener func(Transition)

// Config controls the tracker thresholds.
type Config struct {
	// DegradedThreshold is the consecutive-failure count that moves a
	// component from available to degraded.
	DegradedThreshold int `yaml:"degraded-threshold" json:"degraded-threshold"`

	// UnavailableThreshold is the consecutive-failure count that moves a
	// component from degraded to unavailable.
	UnavailableThreshold int `yaml:"unavailable-threshold" json:"unavailable-threshold"`

	// ErrorCooldown is how long a component stays in the error state before
	// a reported success may clear it without an explicit reset.
	ErrorCooldown time.Duration `yaml:"error-cooldown" json:"error-cooldown"`
}

// DefaultConfig returns the default tracker thresholds.
func DefaultConfig() Config {
	return Config{
		DegradedThreshold:    3,
		UnavailableThreshold: 6,
		ErrorCooldown:        5 * time.Minute,
	}
}
