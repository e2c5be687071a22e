// Package retry implements the retry classifier and backoff policy used
// everywhere the system performs external I/O: market-data calls,
// balance-oracle calls, and store operations.
package retry

import (
	"context"
	"errors"
	"time"
)

// Class classifies a failed operation for the purposes of choosing a
// backoff delay. Other is never retried.
type Class int

const (
	Other Class = iota
	RateLimit
	ServerError
	Timeout
)

func (c Class) String() string {
	switch c {
	case RateLimit:
		return "rate_limit"
	case ServerError:
		return "server_error"
	case Timeout:
		return "timeout"
	default:
		return "other"
	}
}

// Classifier assigns a Class to an error. Callers of Policy.Do supply one
// tailored to the error types their external collaborator returns.
type Classifier func(error) Class

// Classified is an optional interface an error can implement to carry its
// own Class, so HTTP/store adapters don't need bespoke classifier
// functions wired through every call site.
type Classified interface {
	RetryClass() Class
}

// DefaultClassifier reads Class off an error implementing Classified,
// falling back to Other (non-retryable) for anything else.
func DefaultClassifier(err error) Class {
	var c Classified
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	return Other
}

// Config holds per-class delay vectors and the maximum retry attempt
// count, mirroring the original system's rate-limit/server-error/timeout
// tiers.
type Config struct {
	MaxAttempts         int
	RateLimitDelays     []time.Duration
	ServerErrorDelays   []time.Duration
	TimeoutDelays       []time.Duration
}

// DefaultConfig returns the documented defaults: rate-limit waits longest,
// server errors medium, timeouts shortest.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		RateLimitDelays:   millis(500, 1000, 2000),
		ServerErrorDelays: millis(300, 600, 1200),
		TimeoutDelays:     millis(500, 1000),
	}
}

func millis(ms ...int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}

func (c Config) delay(class Class, attempt int) (time.Duration, bool) {
	var delays []time.Duration
	switch class {
	case RateLimit:
		delays = c.RateLimitDelays
	case ServerError:
		delays = c.ServerErrorDelays
	case Timeout:
		delays = c.TimeoutDelays
	default:
		return 0, false
	}
	if attempt < 0 || attempt >= len(delays) {
		return 0, false
	}
	return delays[attempt], true
}

// Policy binds a Config to a Classifier and exposes Do, the single entry
// point every external call in this system goes through.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// New builds a Policy. A nil classifier falls back to DefaultClassifier.
func New(cfg Config, classifier Classifier) Policy {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return Policy{Config: cfg, Classifier: classifier}
}

// Do invokes op, retrying on classified transient failures per the
// policy's delay vectors. The final error is always returned unchanged,
// never wrapped, so callers can still classify or compare it. Sleeps are
// cancellable via ctx.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempt := 0
	for {
		err := op()
		if err == nil {
			return nil
		}

		class := p.Classifier(err)
		if class == Other || attempt >= p.Config.MaxAttempts {
			return err
		}

		delay, ok := p.Config.delay(class, attempt)
		if !ok {
			return err
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
