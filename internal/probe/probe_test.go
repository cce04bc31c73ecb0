// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AthunSujith/echoversa/internal/health"
)

func newTestProber() (*Prober, *health.Tracker) {
	tracker := health.NewTracker(health.DefaultConfig())
	return NewProber(tracker, time.Second), tracker
}

func TestRunSeedsTracker(t *testing.T) {
	p, tracker := newTestProber()
	p.Register(Probe{ComponentID: "good", Check: func(context.Context) error { return nil }})
	p.Register(Probe{ComponentID: "bad", Check: func(context.Context) error { return errors.New("missing binary") }})

	if _, err := p.Run(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), "bad"); err != nil {
		t.Fatal(err)
	}

	if tracker.State("good").State != health.StateAvailable {
		t.Fatal("passing probe should register the component available")
	}
	bad := tracker.State("bad")
	if bad.State != health.StateUnavailable || bad.Reason != "missing binary" {
		t.Fatalf("failing probe registered %+v", bad)
	}
}

func TestRunAllCollectsEveryResult(t *testing.T) {
	p, _ := newTestProber()
	for _, id := range []string{"a", "b", "c"} {
		id := id
		p.Register(Probe{ComponentID: id, Check: func(context.Context) error {
			if id == "b" {
				return errors.New("nope")
			}
			return nil
		}})
	}

	results, err := p.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results["b"].Available {
		t.Fatal("probe b should be unavailable")
	}
	if !results["a"].Available || !results["c"].Available {
		t.Fatal("one failing probe must not affect the others")
	}
}

func TestPanicContained(t *testing.T) {
	p, tracker := newTestProber()
	p.Register(Probe{ComponentID: "boom", Check: func(context.Context) error { panic("kaboom") }})

	res, err := p.Run(context.Background(), "boom")
	if err != nil {
		t.Fatal(err)
	}
	if res.Available {
		t.Fatal("panicking probe must report unavailable")
	}
	if tracker.State("boom").State != health.StateUnavailable {
		t.Fatal("panicking probe must seed tracker unavailable")
	}
}

func TestReProbeClearsErrorState(t *testing.T) {
	p, tracker := newTestProber()
	p.Register(Probe{ComponentID: "svc", Check: func(context.Context) error { return nil }})

	tracker.ReportFailure("svc", health.FailureFatal, "crashed")
	if tracker.State("svc").State != health.StateError {
		t.Fatal("setup: component should be in error")
	}

	if _, err := p.Run(context.Background(), "svc"); err != nil {
		t.Fatal(err)
	}
	if tracker.State("svc").State != health.StateAvailable {
		t.Fatal("passing re-probe must clear error state")
	}
}

func TestRunUnhealthyRecoversUnavailableComponent(t *testing.T) {
	p, tracker := newTestProber()

	healthy := 0
	p.Register(Probe{ComponentID: "steady", Check: func(context.Context) error {
		healthy++
		return nil
	}})

	var fixed bool
	p.Register(Probe{ComponentID: "flaky", Check: func(context.Context) error {
		if fixed {
			return nil
		}
		return errors.New("binary missing")
	}})

	if _, err := p.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tracker.State("flaky").State != health.StateUnavailable {
		t.Fatal("setup: flaky should start unavailable")
	}

	// While still broken the re-probe leaves it unavailable.
	p.RunUnhealthy(context.Background())
	if tracker.State("flaky").State != health.StateUnavailable {
		t.Fatal("broken component must stay unavailable")
	}

	fixed = true
	p.RunUnhealthy(context.Background())
	if tracker.State("flaky").State != health.StateAvailable {
		t.Fatal("recovered component must re-enter its chain after re-probe")
	}
	if healthy != 1 {
		t.Fatalf("steady probed %d times, re-probe must skip routable components", healthy)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	p, tracker := newTestProber()
	p.Register(Probe{ComponentID: "down", Check: func(context.Context) error { return nil }})
	tracker.Register("down", false, "not yet probed")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Watch(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for tracker.State("down").State != health.StateAvailable {
		select {
		case <-deadline:
			t.Fatal("watch never re-probed the unavailable component")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch must return once the context is cancelled")
	}
}

func TestUnknownProbe(t *testing.T) {
	p, _ := newTestProber()
	if _, err := p.Run(context.Background(), "ghost"); err == nil {
		t.Fatal("unknown component must error")
	}
}

func TestBinaryCheck(t *testing.T) {
	// Every platform running these tests has "go"... not guaranteed; use
	// a shell that exists on the CI images.
	if err := BinaryCheck("sh")(context.Background()); err != nil {
		t.Skipf("sh not on PATH: %v", err)
	}
	if err := BinaryCheck("definitely-not-a-real-binary-xyz")(context.Background()); err == nil {
		t.Fatal("missing binary must fail the check")
	}
}

func TestHTTPCheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	if err := HTTPCheck(ok.URL)(context.Background()); err != nil {
		t.Fatalf("healthy endpoint failed check: %v", err)
	}
	if err := HTTPCheck(broken.URL)(context.Background()); err == nil {
		t.Fatal("5xx endpoint must fail the check")
	}
}

func TestDirWritableCheck(t *testing.T) {
	dir := t.TempDir()
	if err := DirWritableCheck(filepath.Join(dir, "sub"))(context.Background()); err != nil {
		t.Fatalf("writable dir failed check: %v", err)
	}
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.bin")

	if err := FileCheck(path)(context.Background()); err == nil {
		t.Fatal("missing file must fail")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := FileCheck(path)(context.Background()); err == nil {
		t.Fatal("empty file must fail")
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := FileCheck(path)(context.Background()); err != nil {
		t.Fatalf("non-empty file failed check: %v", err)
	}
}

func TestAllStopsAtFirstFailure(t *testing.T) {
	calls := 0
	fail := func(context.Context) error { calls++; return errors.New("no") }
	after := func(context.Context) error { calls++; return nil }

	if err := All(fail, after)(context.Background()); err == nil {
		t.Fatal("combined check must fail")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (short circuit)", calls)
	}
}
