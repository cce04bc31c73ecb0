// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics keeps short in-memory histories of resource and operation
// measurements. Each metric name owns an append-only ring buffer; the oldest
// samples are dropped once the capacity bound is reached. Nothing here is
// persisted.
package metrics

import (
	"sync"
	"time"
)

// Well-known metric names recorded by the monitor and the executor.
const (
	MetricCPUPercent  = "cpu_pct"
	MetricMemPercent  = "mem_pct"
	MetricDiskPercent = "disk_pct"
)

// Sample is a single measurement.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
}

// Ring is a fixed-capacity buffer of samples for one metric name.
type Ring struct {
	name     string
	capacity int
	buf      []Sample
	start    int
	size     int
}

func newRing(name string, capacity int) *Ring {
	return &Ring{name: name, capacity: capacity, buf: make([]Sample, capacity)}
}

func (r *Ring) append(s Sample) {
	if r.size < r.capacity {
		r.buf[(r.start+r.size)%r.capacity] = s
		r.size++
		return
	}
	// Full: overwrite the oldest entry.
	r.buf[r.start] = s
	r.start = (r.start + 1) % r.capacity
}

func (r *Ring) samples() []Sample {
	out := make([]Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%r.capacity]
	}
	return out
}

// Store holds one ring per metric name.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*Ring
}

// NewStore creates a store whose rings each hold up to capacity samples.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	return &Store{capacity: capacity, rings: make(map[string]*Ring)}
}

// Record appends a sample for the named metric.
func (s *Store) Record(name string, value float64) {
	s.RecordAt(name, value, time.Now())
}

// RecordAt appends a sample with an explicit timestamp.
func (s *Store) RecordAt(name string, value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.rings[name]
	if !ok {
		ring = newRing(name, s.capacity)
		s.rings[name] = ring
	}
	ring.append(Sample{Timestamp: ts, Name: name, Value: value})
}

// RecordLatency appends an op_latency_ms sample for the given operation id.
func (s *Store) RecordLatency(opID string, d time.Duration) {
	s.Record("op_latency_ms."+opID, float64(d.Milliseconds()))
}

// RecordOutcome appends a success (0) or failure (1) sample for the given
// operation id, feeding the error-rate calculation.
func (s *Store) RecordOutcome(opID string, failed bool) {
	v := 0.0
	if failed {
		v = 1.0
	}
	s.Record("op_error."+opID, v)
}

// Samples returns the retained samples for a metric, oldest first.
func (s *Store) Samples(name string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.rings[name]
	if !ok {
		return nil
	}
	return ring.samples()
}

// Latest returns the most recent sample for a metric, if any.
func (s *Store) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.rings[name]
	if !ok || ring.size == 0 {
		return Sample{}, false
	}
	return ring.buf[(ring.start+ring.size-1)%ring.capacity], true
}

// ErrorRate computes the failure ratio over the last n outcome samples of an
// operation. Returns 0 when fewer than minSamples outcomes are retained, so
// a single early failure does not read as a 100% error rate.
func (s *Store) ErrorRate(opID string, n, minSamples int) float64 {
	samples := s.Samples("op_error." + opID)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	if len(samples) < minSamples {
		return 0
	}

	failed := 0
	for _, sm := range samples {
		if sm.Value > 0 {
			failed++
		}
	}
	return float64(failed) / float64(len(samples))
}

// Names returns every metric name with at least one retained sample.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.rings))
	for name, ring := range s.rings {
		if ring.size > 0 {
			names = append(names, name)
		}
	}
	return names
}
