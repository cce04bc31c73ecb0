// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package health

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_NoSkippedStates drives a tracker with arbitrary outcome
// sequences and checks the ordering invariants of the state machine.
func TestProperty_NoSkippedStates(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("degradation never skips a state and success always recovers", prop.ForAll(
		func(outcomes []bool) bool {
			tracker := NewTracker(Config{DegradedThreshold: 3, UnavailableThreshold: 6})
			tracker.Register("p", true, "")

			prev := StateAvailable
			for _, ok := range outcomes {
				if ok {
					tracker.ReportSuccess("p")
				} else {
					tracker.ReportFailure("p", FailureTransient, "x")
				}
				cur := tracker.State("p").State

				// A transient outcome stream can never reach the error state.
				if cur == StateError {
					return false
				}
				// Available may only degrade one step at a time.
				if prev == StateAvailable && cur == StateUnavailable {
					return false
				}
				// Any success lands back on available.
				if ok && cur != StateAvailable {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("counter equals trailing failure run length", prop.ForAll(
		func(outcomes []bool) bool {
			tracker := NewTracker(Config{DegradedThreshold: 3, UnavailableThreshold: 6})
			tracker.Register("p", true, "")

			run := 0
			for _, ok := range outcomes {
				if ok {
					tracker.ReportSuccess("p")
					run = 0
				} else {
					tracker.ReportFailure("p", FailureTransient, "x")
					run++
				}
			}
			return tracker.State("p").ConsecutiveFailures == run
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
