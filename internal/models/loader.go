// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/AthunSujith/echoversa/internal/faults"
)

// InstanceState tracks a loaded model's lifecycle.
type InstanceState string

const (
	InstanceLoading InstanceState = "loading"
	InstanceReady   InstanceState = "ready"
	InstanceFailed  InstanceState = "failed"
)

// Instance is a loaded model ready to serve inference.
type Instance struct {
	Spec     Spec
	Path     string
	State    InstanceState
	LoadedAt time.Time

	// Err holds the load failure for failed instances
	Err error

	// Runtime is the backend-specific handle (llama.cpp session, HTTP
	// sidecar client). Owned by the provider that loads through this
	// loader.
	Runtime any
}

// LoadFunc performs the backend-specific work of bringing weights into
// memory. It receives the verified on-disk path.
type LoadFunc func(ctx context.Context, spec Spec, path string) (any, error)

// Loader deduplicates concurrent loads of the same model and caches ready
// instances for the life of the process. There is no eviction; local models
// are few and reloading them is far more expensive than keeping them.
type Loader struct {
	downloader *Downloader
	loadFn     LoadFunc

	group singleflight.Group

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewLoader creates a loader. loadFn may be nil, in which case loading
// stops at download verification and the instance carries no runtime.
func NewLoader(downloader *Downloader, loadFn LoadFunc) *Loader {
	return &Loader{
		downloader: downloader,
		loadFn:     loadFn,
		instances:  make(map[string]*Instance),
	}
}

// Load returns a ready instance for the spec, downloading and loading it if
// needed. Concurrent calls for the same model share one in-flight load; a
// failed load is propagated to every waiter and the next call starts fresh.
// The flight itself runs detached from the initiating request, so a caller
// that cancels gives up alone while the remaining waiters still get the
// instance.
func (l *Loader) Load(ctx context.Context, spec Spec, progress ProgressFunc) (*Instance, error) {
	l.mu.RLock()
	inst, ok := l.instances[spec.Name]
	l.mu.RUnlock()
	if ok && inst.State == InstanceReady {
		return inst, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(spec.Name, func() (any, error) {
		return l.load(loadCtx, spec, progress)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	}
}

// load is the body of one shared flight.
func (l *Loader) load(ctx context.Context, spec Spec, progress ProgressFunc) (*Instance, error) {
	// Re-check: a previous flight may have finished between the cache miss
	// and joining the group.
	l.mu.RLock()
	cached, ok := l.instances[spec.Name]
	l.mu.RUnlock()
	if ok && cached.State == InstanceReady {
		return cached, nil
	}

	start := time.Now()
	path, err := l.downloader.Ensure(ctx, spec, progress)
	if err != nil {
		return l.storeFailed(spec, err), err
	}

	var runtime any
	if l.loadFn != nil {
		runtime, err = l.loadFn(ctx, spec, path)
		if err != nil {
			err = faults.Wrap(faults.KindOf(err), spec.Name, "model load failed", err)
			return l.storeFailed(spec, err), err
		}
	}

	inst := &Instance{
		Spec:     spec,
		Path:     path,
		State:    InstanceReady,
		LoadedAt: time.Now(),
		Runtime:  runtime,
	}
	l.mu.Lock()
	l.instances[spec.Name] = inst
	l.mu.Unlock()

	log.WithFields(log.Fields{"model": spec.Name, "took": time.Since(start).String()}).Info("Model loaded")
	return inst, nil
}

// Get returns the cached instance for a model, if any.
func (l *Loader) Get(name string) (*Instance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instances[name]
	return inst, ok
}

// Loaded returns the names of ready instances.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for name, inst := range l.instances {
		if inst.State == InstanceReady {
			out = append(out, name)
		}
	}
	return out
}

// Unload drops a cached instance so the next Load starts over. The runtime
// handle, if any, must already be closed by its owner.
func (l *Loader) Unload(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.instances[name]; !ok {
		return fmt.Errorf("model %q is not loaded", name)
	}
	delete(l.instances, name)
	return nil
}

// storeFailed records a failed instance for diagnostics. Failed instances
// never satisfy Load, so the next call retries from scratch.
func (l *Loader) storeFailed(spec Spec, err error) *Instance {
	inst := &Instance{Spec: spec, State: InstanceFailed, Err: err}
	l.mu.Lock()
	l.instances[spec.Name] = inst
	l.mu.Unlock()
	return inst
}
