// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package faults defines the error taxonomy shared by the resilience core.
// Every failure a provider or lifecycle component can produce is classified
// into one of four kinds, which drives retry and failover decisions.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind categorizes a failure for retry/failover purposes.
type Kind string

const (
	// Transient covers timeouts, connection resets and rate limits.
	// Transient failures are retried within a provider before failing over.
	Transient Kind = "transient"

	// Fatal covers bad credentials, malformed requests and corrupt
	// responses. Fatal failures are never retried; the executor moves to
	// the next provider immediately.
	Fatal Kind = "fatal"

	// Resource covers insufficient RAM/disk and missing dependencies.
	// The component is marked unavailable until the environment changes.
	Resource Kind = "resource"

	// Integrity covers checksum mismatches on downloaded artifacts.
	// Bounded re-download attempts apply before escalating to Resource.
	Integrity Kind = "integrity"
)

// Error is a classified failure with an operator-facing detail and an
// optional user-facing message.
type Error struct {
	Kind        Kind
	ComponentID string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error for the given component.
func New(kind Kind, componentID, message string) *Error {
	return &Error{Kind: kind, ComponentID: componentID, Message: message}
}

// Wrap classifies an underlying error for the given component.
func Wrap(kind Kind, componentID, message string, err error) *Error {
	return &Error{Kind: kind, ComponentID: componentID, Message: message, Err: err}
}

// Transientf builds a transient error with a formatted message.
func Transientf(componentID, format string, args ...any) *Error {
	return &Error{Kind: Transient, ComponentID: componentID, Message: fmt.Sprintf(format, args...)}
}

// Fatalf builds a fatal error with a formatted message.
func Fatalf(componentID, format string, args ...any) *Error {
	return &Error{Kind: Fatal, ComponentID: componentID, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err. Unclassified errors are inspected
// for well-known transient traits (timeouts, connection errors, rate-limit
// markers); everything else defaults to Fatal so that unknown programming
// errors are never retried blindly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return Transient
		}
	}
	for _, marker := range resourceMarkers {
		if strings.Contains(msg, marker) {
			return Resource
		}
	}

	return Fatal
}

// IsRetryable reports whether err should be retried within the same provider.
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"rate limit",
	"too many requests",
	"status 429",
	"status 502",
	"status 503",
	"temporarily unavailable",
}

var resourceMarkers = []string{
	"no space left",
	"out of memory",
	"insufficient",
	"executable file not found",
}

// ProviderFailure records the final error a single provider produced before
// the executor moved on.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ChainError aggregates the last error of every provider in an exhausted
// fallback chain. It renders as a single user-presentable message; the
// per-provider details stay available for diagnostics.
type ChainError struct {
	Capability string
	Failures   []ProviderFailure
}

func (e *ChainError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Provider)
	}
	return fmt.Sprintf("capability %q is currently unavailable (tried %s)", e.Capability, strings.Join(names, ", "))
}

// UserMessage returns the degraded-mode text intended for end users. Raw
// provider errors are deliberately not included.
func (e *ChainError) UserMessage() string {
	return fmt.Sprintf("This feature is temporarily unavailable. All %d services that provide it could not be reached. Please try again in a moment.", len(e.Failures))
}

// TechnicalDetail enumerates each provider's last error for the diagnostics
// view and the logs.
func (e *ChainError) TechnicalDetail() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return strings.Join(parts, "; ")
}
