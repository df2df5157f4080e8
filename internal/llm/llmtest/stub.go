// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stub is a provider whose replies come from Fn
type Stub struct {
	Fn func(ctx context.Context, prompt string) (string, error)

	calls  atomic.Int64
	mu     sync.Mutex
	closed bool
}

// Complete calls Fn and counts the call
func (s *Stub) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	return s.Fn(ctx, prompt)
}

// Close marks the stub closed
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// GetModelInfo returns a fixed description
func (s *Stub) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "stub", "model": "stub"}
}

// Calls returns how many times Complete ran
func (s *Stub) Calls() int {
	return int(s.calls.Load())
}

// Closed reports whether Close was called
func (s *Stub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fixed returns a stub that always replies text
func Fixed(text string) *Stub {
	return &Stub{Fn: func(context.Context, string) (string, error) { return text, nil }}
}

// Failing returns a stub that always fails with err
func Failing(err error) *Stub {
	return &Stub{Fn: func(context.Context, string) (string, error) { return "", err }}
}

// Flaky returns a stub that fails with err for the first n calls, then replies text
func Flaky(n int, err error, text string) *Stub {
	var count atomic.Int64
	return &Stub{Fn: func(context.Context, string) (string, error) {
		if count.Add(1) <= int64(n) {
			return "", err
		}
		return text, nil
	}}
}
