// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package probe checks component prerequisites at startup and on demand.
// Probe results seed the health tracker so requests are never routed to a
// component whose environment was broken before the first call.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AthunSujith/echoversa/internal/health"
)

// Result is the outcome of one probe run.
type Result struct {
	// ComponentID is the health tracker id the probe reports for
	ComponentID string `json:"component_id"`

	// Available is true when every prerequisite was satisfied
	Available bool `json:"available"`

	// Reason explains an unavailable result
	Reason string `json:"reason,omitempty"`

	// Duration is how long the probe took
	Duration time.Duration `json:"duration"`

	// CheckedAt is when the probe finished
	CheckedAt time.Time `json:"checked_at"`
}

// Func performs one prerequisite check. A nil error means available; the
// error message becomes the unavailable reason.
type Func func(ctx context.Context) error

// Probe couples a component id with its prerequisite check.
type Probe struct {
	ComponentID string
	Check       Func
}

// Prober runs registered probes and feeds results into the tracker.
type Prober struct {
	tracker *health.Tracker
	timeout time.Duration

	mu      sync.RWMutex
	probes  map[string]Probe
	order   []string
	results map[string]Result
}

// NewProber creates a prober. Each probe run is bounded by timeout.
func NewProber(tracker *health.Tracker, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{
		tracker: tracker,
		timeout: timeout,
		probes:  make(map[string]Probe),
		results: make(map[string]Result),
	}
}

// Register adds a probe. Re-registering a component id replaces its check.
func (p *Prober) Register(pr Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.probes[pr.ComponentID]; !exists {
		p.order = append(p.order, pr.ComponentID)
	}
	p.probes[pr.ComponentID] = pr
}

// Run executes one component's probe, records the result, and seeds the
// tracker. Probe panics are contained and reported as unavailable.
func (p *Prober) Run(ctx context.Context, componentID string) (Result, error) {
	p.mu.RLock()
	pr, ok := p.probes[componentID]
	p.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("no probe registered for component %q", componentID)
	}

	res := p.execute(ctx, pr)

	p.mu.Lock()
	p.results[componentID] = res
	p.mu.Unlock()

	p.tracker.Register(componentID, res.Available, res.Reason)
	if res.Available {
		// A passing re-probe clears any prior error state.
		p.tracker.Reset(componentID)
	}
	return res, nil
}

// RunAll probes every registered component concurrently and seeds the
// tracker with each result. It never fails the whole run because one
// component is unavailable; only context cancellation aborts it.
func (p *Prober) RunAll(ctx context.Context) (map[string]Result, error) {
	p.mu.RLock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	var resMu sync.Mutex
	out := make(map[string]Result, len(ids))

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.Run(gctx, id)
			if err != nil {
				return err
			}
			resMu.Lock()
			out[id] = res
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	available := 0
	for _, r := range out {
		if r.Available {
			available++
		}
	}
	log.WithFields(log.Fields{"available": available, "total": len(out)}).Info("Startup probes completed")
	return out, nil
}

// RunUnhealthy re-probes every registered component the tracker will not
// route to. A provider that went unavailable mid-chain never gets another
// request, so this is its way back in; healthy components are left alone.
func (p *Prober) RunUnhealthy(ctx context.Context) {
	p.mu.RLock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	p.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if p.tracker.Routable(id) {
			continue
		}
		if res, err := p.Run(ctx, id); err == nil && res.Available {
			log.WithField("component", id).Info("Component recovered on re-probe")
		}
	}
}

// Watch re-probes unhealthy components on the given interval until the
// context is cancelled.
func (p *Prober) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunUnhealthy(ctx)
		}
	}
}

// Results returns the last recorded result per component.
func (p *Prober) Results() map[string]Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Result, len(p.results))
	for id, r := range p.results {
		out[id] = r
	}
	return out
}

func (p *Prober) execute(ctx context.Context, pr Probe) (res Result) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	res = Result{ComponentID: pr.ComponentID, Available: true, CheckedAt: start}

	defer func() {
		if r := recover(); r != nil {
			res.Available = false
			res.Reason = fmt.Sprintf("probe panicked: %v", r)
			res.Duration = time.Since(start)
			res.CheckedAt = time.Now()
			log.Errorf("Probe for %s panicked: %v", pr.ComponentID, r)
		}
	}()

	if err := pr.Check(ctx); err != nil {
		res.Available = false
		res.Reason = err.Error()
	}
	res.Duration = time.Since(start)
	res.CheckedAt = time.Now()
	return res
}

// BinaryCheck verifies an executable is on PATH.
func BinaryCheck(name string) Func {
	return func(_ context.Context) error {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("executable %q not found on PATH", name)
		}
		return nil
	}
}

// HTTPCheck verifies an endpoint answers with a non-5xx status.
func HTTPCheck(url string) Func {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("endpoint %s unreachable: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("endpoint %s returned status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// DirWritableCheck verifies a directory exists (creating it if needed) and
// accepts writes.
func DirWritableCheck(dir string) Func {
	return func(_ context.Context) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".writecheck-*")
		if err != nil {
			return fmt.Errorf("directory %s is not writable: %w", dir, err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// DiskSpaceCheck verifies the filesystem holding path has at least minBytes
// free.
func DiskSpaceCheck(path string, minBytes uint64) Func {
	return func(ctx context.Context) error {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return fmt.Errorf("cannot stat filesystem at %s: %w", path, err)
		}
		if usage.Free < minBytes {
			return fmt.Errorf("only %d bytes free at %s, need %d", usage.Free, path, minBytes)
		}
		return nil
	}
}

// FileCheck verifies a file exists and is non-empty. Used for cached model
// weights.
func FileCheck(path string) Func {
	return func(_ context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("file %s missing: %w", filepath.Base(path), err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, expected a file", path)
		}
		if info.Size() == 0 {
			return fmt.Errorf("file %s is empty", filepath.Base(path))
		}
		return nil
	}
}

// All combines several checks; the first failure wins.
func All(checks ...Func) Func {
	return func(ctx context.Context) error {
		for _, c := range checks {
			if err := c(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
