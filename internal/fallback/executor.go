// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fallback routes capability requests through an ordered provider
// chain. Each provider gets bounded in-provider retries for transient
// failures; when a provider is exhausted the executor fails over to the next
// one, and only when the whole chain is exhausted does the caller see an
// error.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AthunSujith/echoversa/internal/faults"
	"github.com/AthunSujith/echoversa/internal/health"
	"github.com/AthunSujith/echoversa/internal/metrics"
)

// Provider serves one capability. Implementations live in the providers
// package; the executor only sees this surface.
type Provider interface {
	// Name identifies the provider in logs and chain errors
	Name() string

	// Capability names what the provider serves ("generate", "speech", "mix")
	Capability() string

	// HealthID is the component id reported to the health tracker. Several
	// providers may share one id when they share a backing dependency.
	HealthID() string

	// Invoke performs one attempt. Payload types are capability-specific.
	Invoke(ctx context.Context, req any) (any, error)
}

// Config bounds retries and per-attempt time.
type Config struct {
	// MaxRetries is the number of in-provider retries after the first
	// attempt, applied only to transient failures
	MaxRetries uint64 `yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential delay growth
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// AttemptTimeout bounds a single provider attempt
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// CapabilityTimeouts overrides AttemptTimeout per capability
	CapabilityTimeouts map[string]time.Duration `yaml:"capability_timeouts"`
}

func (c *Config) timeoutFor(capability string) time.Duration {
	if t, ok := c.CapabilityTimeouts[capability]; ok {
		return t
	}
	return c.AttemptTimeout
}

// DefaultConfig returns the standing retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Executor owns the per-capability chains and the failover loop.
type Executor struct {
	config  *Config
	tracker *health.Tracker
	store   *metrics.Store
	chains  map[string][]Provider
}

// NewExecutor creates an executor with no chains registered.
func NewExecutor(config *Config, tracker *health.Tracker, store *metrics.Store) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Executor{
		config:  config,
		tracker: tracker,
		store:   store,
		chains:  make(map[string][]Provider),
	}
}

// SetChain installs the ordered provider chain for a capability, replacing
// any previous chain. Chains are installed at startup and never mutated
// concurrently with Execute.
func (x *Executor) SetChain(capability string, providers []Provider) error {
	if len(providers) == 0 {
		return fmt.Errorf("capability %q: empty provider chain", capability)
	}
	for _, p := range providers {
		if p.Capability() != capability {
			return fmt.Errorf("provider %q serves %q, not %q", p.Name(), p.Capability(), capability)
		}
	}
	x.chains[capability] = providers
	return nil
}

// Chain returns the installed chain for a capability.
func (x *Executor) Chain(capability string) []Provider {
	return x.chains[capability]
}

// Capabilities returns every capability with an installed chain.
func (x *Executor) Capabilities() []string {
	out := make([]string, 0, len(x.chains))
	for c := range x.chains {
		out = append(out, c)
	}
	return out
}

// Execute runs req through the capability's chain and returns the first
// successful response. Providers whose health state is Unavailable or Error
// are skipped; if that filter would empty the chain, the full chain is tried
// anyway so a recovered backend can still serve.
func (x *Executor) Execute(ctx context.Context, capability string, req any) (any, error) {
	chain, ok := x.chains[capability]
	if !ok {
		return nil, faults.Fatalf(capability, "no provider chain configured for capability %q", capability)
	}

	requestID := uuid.NewString()
	logger := log.WithFields(log.Fields{"request_id": requestID, "capability": capability})

	candidates := make([]Provider, 0, len(chain))
	for _, p := range chain {
		if x.tracker.Routable(p.HealthID()) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		logger.Warn("All providers circuit-open, trying full chain")
		candidates = chain
	}

	start := time.Now()
	var failures []faults.ProviderFailure

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := x.invokeWithRetry(ctx, logger, p, req, x.config.timeoutFor(capability))
		if err == nil {
			x.tracker.ReportSuccess(p.HealthID())
			x.store.RecordOutcome(capability, false)
			x.store.RecordLatency(capability, time.Since(start))
			logger.WithField("provider", p.Name()).Debug("Request served")
			return resp, nil
		}

		kind := faults.KindOf(err)
		failureKind := health.FailureTransient
		switch kind {
		case faults.Fatal:
			failureKind = health.FailureFatal
		case faults.Resource:
			failureKind = health.FailureResource
		}
		x.tracker.ReportFailure(p.HealthID(), failureKind, err.Error())
		failures = append(failures, faults.ProviderFailure{Provider: p.Name(), Err: err})
		logger.WithFields(log.Fields{"provider": p.Name(), "kind": kind}).Warnf("Provider failed, failing over: %v", err)
	}

	x.store.RecordOutcome(capability, true)
	chainErr := &faults.ChainError{Capability: capability, Failures: failures}
	logger.Error(chainErr.TechnicalDetail())
	return nil, chainErr
}

// invokeWithRetry runs one provider with exponential backoff on transient
// errors. Fatal, resource and integrity errors abort immediately so the
// executor can fail over.
func (x *Executor) invokeWithRetry(ctx context.Context, logger *log.Entry, p Provider, req any, timeout time.Duration) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = x.config.InitialBackoff
	bo.MaxInterval = x.config.MaxBackoff
	bo.MaxElapsedTime = 0

	var resp any
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		r, err := p.Invoke(attemptCtx, req)
		if err == nil {
			resp = r
			return nil
		}
		if !faults.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.WithFields(log.Fields{"provider": p.Name(), "attempt": attempt}).Debugf("Transient failure, will retry: %v", err)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, x.config.MaxRetries), ctx))
	return resp, err
}
