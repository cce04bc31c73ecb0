// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AthunSujith/echoversa/internal/faults"
	"github.com/AthunSujith/echoversa/internal/health"
	"github.com/AthunSujith/echoversa/internal/metrics"
)

// scriptedProvider fails a fixed number of times with a given error, then
// succeeds.
type scriptedProvider struct {
	name       string
	capability string
	healthID   string
	failures   int
	err        error
	calls      int
}

func (p *scriptedProvider) Name() string       { return p.name }
func (p *scriptedProvider) Capability() string { return p.capability }
func (p *scriptedProvider) HealthID() string {
	if p.healthID != "" {
		return p.healthID
	}
	return p.name
}

func (p *scriptedProvider) Invoke(_ context.Context, req any) (any, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return "ok:" + p.name, nil
}

func newTestExecutor(t *testing.T) (*Executor, *health.Tracker) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	tracker := health.NewTracker(health.DefaultConfig())
	return NewExecutor(cfg, tracker, metrics.NewStore(64)), tracker
}

func TestFailoverToThirdProvider(t *testing.T) {
	x, _ := newTestExecutor(t)

	a := &scriptedProvider{name: "a", capability: "generate", failures: 99, err: faults.Fatalf("a", "bad credentials")}
	b := &scriptedProvider{name: "b", capability: "generate", failures: 99, err: faults.Fatalf("b", "model missing")}
	c := &scriptedProvider{name: "c", capability: "generate"}
	if err := x.SetChain("generate", []Provider{a, b, c}); err != nil {
		t.Fatal(err)
	}

	resp, err := x.Execute(context.Background(), "generate", "hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp != "ok:c" {
		t.Fatalf("resp = %v, want ok:c", resp)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("fatal errors must not be retried: a=%d b=%d", a.calls, b.calls)
	}
}

func TestTransientRetriesWithinProvider(t *testing.T) {
	x, _ := newTestExecutor(t)

	// Fails twice transiently, succeeds on the third attempt, all within
	// the same provider.
	p := &scriptedProvider{name: "p", capability: "generate", failures: 2, err: faults.Transientf("p", "connection reset")}
	if err := x.SetChain("generate", []Provider{p}); err != nil {
		t.Fatal(err)
	}

	resp, err := x.Execute(context.Background(), "generate", "hi")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp != "ok:p" {
		t.Fatalf("resp = %v", resp)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 attempt + 2 retries)", p.calls)
	}
}

func TestRetryBudgetIsBounded(t *testing.T) {
	x, _ := newTestExecutor(t)

	p := &scriptedProvider{name: "p", capability: "generate", failures: 99, err: faults.Transientf("p", "timeout")}
	if err := x.SetChain("generate", []Provider{p}); err != nil {
		t.Fatal(err)
	}

	_, err := x.Execute(context.Background(), "generate", "hi")
	if err == nil {
		t.Fatal("expected chain exhaustion")
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3 (retry budget of 2)", p.calls)
	}
}

func TestChainExhaustionAggregatesFailures(t *testing.T) {
	x, tracker := newTestExecutor(t)

	a := &scriptedProvider{name: "a", capability: "speech", failures: 99, err: faults.Fatalf("a", "boom-a")}
	b := &scriptedProvider{name: "b", capability: "speech", failures: 99, err: faults.Fatalf("b", "boom-b")}
	if err := x.SetChain("speech", []Provider{a, b}); err != nil {
		t.Fatal(err)
	}

	_, err := x.Execute(context.Background(), "speech", nil)
	var chainErr *faults.ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("err = %T, want *faults.ChainError", err)
	}
	if len(chainErr.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(chainErr.Failures))
	}
	if tracker.State("a").State != health.StateError {
		t.Fatal("fatal provider failure should mark the component Error")
	}
}

func TestUnroutableProvidersSkipped(t *testing.T) {
	x, tracker := newTestExecutor(t)

	a := &scriptedProvider{name: "a", capability: "generate"}
	b := &scriptedProvider{name: "b", capability: "generate"}
	if err := x.SetChain("generate", []Provider{a, b}); err != nil {
		t.Fatal(err)
	}
	tracker.ReportFailure("a", health.FailureFatal, "down")

	resp, err := x.Execute(context.Background(), "generate", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp != "ok:b" {
		t.Fatalf("resp = %v, want ok:b", resp)
	}
	if a.calls != 0 {
		t.Fatal("circuit-open provider must be skipped")
	}
}

func TestFullChainTriedWhenAllCircuitsOpen(t *testing.T) {
	x, tracker := newTestExecutor(t)

	a := &scriptedProvider{name: "a", capability: "generate"}
	if err := x.SetChain("generate", []Provider{a}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		tracker.ReportFailure("a", health.FailureTransient, "timeout")
	}
	if tracker.Routable("a") {
		t.Fatal("component should be unroutable after sustained failures")
	}

	resp, err := x.Execute(context.Background(), "generate", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp != "ok:a" {
		t.Fatal("when every circuit is open the full chain must still be tried")
	}
	if tracker.State("a").State != health.StateAvailable {
		t.Fatal("success through an open circuit should recover the component")
	}
}

func TestSuccessRecoversHealth(t *testing.T) {
	x, tracker := newTestExecutor(t)

	p := &scriptedProvider{name: "p", capability: "generate", failures: 1, err: faults.Transientf("p", "timeout")}
	if err := x.SetChain("generate", []Provider{p}); err != nil {
		t.Fatal(err)
	}

	if _, err := x.Execute(context.Background(), "generate", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	st := tracker.State("p")
	if st.State != health.StateAvailable || st.ConsecutiveFailures != 0 {
		t.Fatalf("state after recovery = %+v", st)
	}
}

func TestEmptyChainRejected(t *testing.T) {
	x, _ := newTestExecutor(t)
	if err := x.SetChain("generate", nil); err == nil {
		t.Fatal("empty chain must be rejected")
	}
}

func TestMismatchedCapabilityRejected(t *testing.T) {
	x, _ := newTestExecutor(t)
	p := &scriptedProvider{name: "p", capability: "speech"}
	if err := x.SetChain("generate", []Provider{p}); err == nil {
		t.Fatal("provider capability mismatch must be rejected")
	}
}

func TestUnknownCapability(t *testing.T) {
	x, _ := newTestExecutor(t)
	if _, err := x.Execute(context.Background(), "nope", nil); err == nil {
		t.Fatal("unknown capability must error")
	}
}

func TestContextCancellationStopsChain(t *testing.T) {
	x, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &scriptedProvider{name: "a", capability: "generate"}
	if err := x.SetChain("generate", []Provider{a}); err != nil {
		t.Fatal(err)
	}

	_, err := x.Execute(ctx, "generate", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if a.calls != 0 {
		t.Fatal("cancelled context must stop before invoking providers")
	}
}

func TestResourceFailureMarksUnavailableNotError(t *testing.T) {
	x, tracker := newTestExecutor(t)

	p := &scriptedProvider{name: "p", capability: "generate", failures: 1,
		err: faults.New(faults.Resource, "p", "out of memory")}
	if err := x.SetChain("generate", []Provider{p}); err != nil {
		t.Fatal(err)
	}

	if _, err := x.Execute(context.Background(), "generate", "hi"); err == nil {
		t.Fatal("expected chain exhaustion")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, resource failures must not be retried", p.calls)
	}
	if got := tracker.State("p").State; got != health.StateUnavailable {
		t.Fatalf("state = %s, want %s", got, health.StateUnavailable)
	}

	// Unavailable is recoverable: the full-chain fallback tries the
	// provider again and its success restores it.
	resp, err := x.Execute(context.Background(), "generate", "hi")
	if err != nil {
		t.Fatalf("Execute after recovery: %v", err)
	}
	if resp != "ok:p" {
		t.Fatalf("resp = %v", resp)
	}
	if got := tracker.State("p").State; got != health.StateAvailable {
		t.Fatalf("state = %s, want %s after success", got, health.StateAvailable)
	}
}
