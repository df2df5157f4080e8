// Package llmerr classifies provider failures into transient and fatal ones.
package llmerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind decides whether a failed call may be retried
type Kind int

const (
	// Transient covers network, timeout and rate-limit conditions
	Transient Kind = iota
	// Fatal covers authentication, invalid model and malformed request conditions
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProviderError is the uniform failure returned by every provider adapter
type ProviderError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// New creates a provider error without an underlying cause
func New(provider string, kind Kind, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: msg}
}

// FromStatus creates a provider error for a non-2xx HTTP response
func FromStatus(provider string, status int, msg string) *ProviderError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Kind:       KindForStatus(status),
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
	}
}

// Wrap classifies a transport-level error
func Wrap(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	kind := Transient
	if errors.Is(err, context.Canceled) {
		kind = Fatal
	}
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// KindForStatus maps an HTTP status code to a failure kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient
	default:
		return Fatal
	}
}

// IsTransient reports whether err may succeed on a later attempt.
// Errors that carry no classification are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return true
}
