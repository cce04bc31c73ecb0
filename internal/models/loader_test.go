// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoaderFixture(t *testing.T, loadFn LoadFunc) (*Loader, Spec) {
	t.Helper()
	body := []byte("loader-test-weights")
	srv := artifactServer(body)
	t.Cleanup(srv.Close)
	d := NewDownloader(t.TempDir(), srv.URL, srv.Client())
	return NewLoader(d, loadFn), testSpec(body)
}

func TestLoadCachesReadyInstance(t *testing.T) {
	var loads int32
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		atomic.AddInt32(&loads, 1)
		return "runtime", nil
	})

	first, err := l.Load(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, InstanceReady, first.State)
	assert.Equal(t, "runtime", first.Runtime)

	second, err := l.Load(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Same(t, first, second, "ready instances are cached")
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestConcurrentLoadsShareOneFlight(t *testing.T) {
	var loads int32
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(20 * time.Millisecond) // hold the flight open
		return "runtime", nil
	})

	const n = 16
	instances := make([]*Instance, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := l.Load(context.Background(), spec, nil)
			require.NoError(t, err)
			instances[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "exactly one in-flight load per model")
	for i := 1; i < n; i++ {
		assert.Same(t, instances[0], instances[i])
	}
}

func TestCancelledCallerLeavesFlightRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		close(entered)
		<-release
		return "runtime", nil
	})

	cancelCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(cancelCtx, spec, nil)
		firstErr <- err
	}()

	secondInst := make(chan *Instance, 1)
	secondErr := make(chan error, 1)
	go func() {
		inst, err := l.Load(context.Background(), spec, nil)
		secondInst <- inst
		secondErr <- err
	}()

	// Cancel the first caller while the shared load is still in flight.
	<-entered
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	inst := <-secondInst
	require.NotNil(t, inst)
	assert.Equal(t, InstanceReady, inst.State, "waiters with live contexts get the instance")
}

func TestLoadFailurePropagatesAndRetries(t *testing.T) {
	var loads int32
	boom := errors.New("weights rejected")
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			return nil, boom
		}
		return "runtime", nil
	})

	_, err := l.Load(context.Background(), spec, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	inst, ok := l.Get(spec.Name)
	require.True(t, ok)
	assert.Equal(t, InstanceFailed, inst.State)

	// Next call starts a fresh load.
	recovered, err := l.Load(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, InstanceReady, recovered.State)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestUnloadForcesReload(t *testing.T) {
	var loads int32
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		atomic.AddInt32(&loads, 1)
		return "runtime", nil
	})

	_, err := l.Load(context.Background(), spec, nil)
	require.NoError(t, err)
	require.NoError(t, l.Unload(spec.Name))
	assert.Error(t, l.Unload(spec.Name), "double unload")

	_, err = l.Load(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestLoadedListsReadyOnly(t *testing.T) {
	l, spec := newLoaderFixture(t, func(context.Context, Spec, string) (any, error) {
		return nil, errors.New("always fails")
	})

	_, err := l.Load(context.Background(), spec, nil)
	require.Error(t, err)
	assert.Empty(t, l.Loaded(), "failed instances are not listed as loaded")
}
