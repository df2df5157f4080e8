package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labeling-service/internal/llmerr"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// MaxFailureMessage caps the length in runes of a failure message
const MaxFailureMessage = 50

// RetryPolicy bounds the attempts of a single call.
// Waits grow as BaseDelay*2^n and are capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy waits 2s, 4s between three attempts, never more than 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// CallFailure is returned once a call has used up its attempts or failed fatally
type CallFailure struct {
	Message  string
	Attempts int
	Err      error
}

func (f *CallFailure) Error() string {
	return f.Message
}

func (f *CallFailure) Unwrap() error {
	return f.Err
}

// RetryObserver is told about every wait before a new attempt
type RetryObserver func(attempt int, wait time.Duration, err error)

// Retrier wraps a provider with bounded retries and exponential backoff.
// Only transient failures are retried; fatal ones return after the first attempt.
type Retrier struct {
	provider Provider
	policy   RetryPolicy
	logger   *zap.Logger
	observer RetryObserver
}

// NewRetrier creates a new retrying caller
func NewRetrier(provider Provider, policy RetryPolicy, logger *zap.Logger) *Retrier {
	return &Retrier{
		provider: provider,
		policy:   policy.withDefaults(),
		logger:   logger,
	}
}

// WithObserver sets a hook called before each backoff wait
func (r *Retrier) WithObserver(fn RetryObserver) *Retrier {
	r.observer = fn
	return r
}

// Policy returns the effective retry policy
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Call runs the provider with retries. A non-nil error is always a *CallFailure.
func (r *Retrier) Call(ctx context.Context, prompt string) (string, error) {
	var (
		out      string
		lastErr  error
		attempts int
	)

	base := retry.WithMaxRetries(uint64(r.policy.MaxAttempts-1),
		retry.WithCappedDuration(r.policy.MaxDelay, retry.NewExponential(r.policy.BaseDelay)))

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		wait, stop := base.Next()
		if !stop {
			r.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempts+1),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			if r.observer != nil {
				r.observer(attempts, wait, lastErr)
			}
		}
		return wait, stop
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		text, err := r.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			if llmerr.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = text
		return nil
	})

	if err != nil {
		return "", &CallFailure{
			Message:  FailureMessage(err),
			Attempts: attempts,
			Err:      err,
		}
	}

	return out, nil
}

// complete turns a provider panic into a fatal error so one row cannot bring down a batch
func (r *Retrier) complete(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("LLM provider panicked", zap.Any("panic", p))
			err = llmerr.New("provider", llmerr.Fatal, fmt.Sprintf("panic: %v", p))
		}
	}()
	return r.provider.Complete(ctx, prompt)
}

// FailureMessage flattens err to a single line of at most MaxFailureMessage runes
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	runes := []rune(msg)
	if len(runes) > MaxFailureMessage {
		runes = runes[:MaxFailureMessage]
	}
	return string(runes)
}
