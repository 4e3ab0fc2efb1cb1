// Package retry runs fallible operations under exponential backoff.
//
// The delay before retry n (0-based) is InitialDelay*Multiplier^n plus a
// uniform jitter in [0, MaxJitter). The blocking and context-aware modes
// share the same arithmetic; only the wait differs.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxJitter    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxJitter:    time.Second,
	}
}

// Delay returns the wait before retry attempt (0-based) for a jitter
// fraction in [0,1).
func (p Policy) Delay(attempt int, jitter float64) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	return time.Duration(base) + time.Duration(jitter*float64(p.MaxJitter))
}

type Retrier struct {
	policy   Policy
	jitter   func() float64
	newTimer func() backoff.Timer
	retryIf  func(error) bool
	logger   *slog.Logger
	name     string
}

type Option func(*Retrier)

// WithJitter replaces the uniform [0,1) source.
func WithJitter(fn func() float64) Option {
	return func(r *Retrier) { r.jitter = fn }
}

// WithTimer supplies a timer per call. Timers are stateful so one is built
// for every Do.
func WithTimer(fn func() backoff.Timer) Option {
	return func(r *Retrier) { r.newTimer = fn }
}

// RetryIf limits retries to errors for which fn reports true; any other
// error is returned after the first attempt.
func RetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

func WithLogger(l *slog.Logger, name string) Option {
	return func(r *Retrier) {
		r.logger = l
		r.name = name
	}
}

func New(p Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: p,
		jitter: rand.Float64,
		logger: slog.Default(),
		name:   "operation",
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Retrier) Policy() Policy { return r.policy }

// Do retries op, sleeping the calling goroutine between attempts. The final
// error is returned unchanged.
func (r *Retrier) Do(op func() error) error {
	return backoff.RetryNotifyWithTimer(r.wrap(op), r.backOff(), r.notify, r.timer())
}

// DoContext is Do with waits that end early when ctx is done, in which case
// ctx.Err() is returned.
func (r *Retrier) DoContext(ctx context.Context, op func() error) error {
	b := backoff.WithContext(r.backOff(), ctx)
	return backoff.RetryNotifyWithTimer(r.wrap(op), b, r.notify, r.timer())
}

// Value is DoContext for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, op func() (T, error)) (T, error) {
	var out T
	err := r.DoContext(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Permanent stops retrying and surfaces err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (r *Retrier) wrap(op func() error) backoff.Operation {
	return func() error {
		err := op()
		if err != nil && r.retryIf != nil && !r.retryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}
}

func (r *Retrier) backOff() backoff.BackOff {
	retries := r.policy.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(&exponential{policy: r.policy, jitter: r.jitter}, uint64(retries))
}

func (r *Retrier) timer() backoff.Timer {
	if r.newTimer == nil {
		return nil
	}
	return r.newTimer()
}

func (r *Retrier) notify(err error, next time.Duration) {
	r.logger.Warn("retrying after failure", "op", r.name, "err", err, "wait", next)
}

type exponential struct {
	policy  Policy
	jitter  func() float64
	attempt int
}

func (e *exponential) NextBackOff() time.Duration {
	d := e.policy.Delay(e.attempt, e.jitter())
	e.attempt++
	return d
}

func (e *exponential) Reset() { e.attempt = 0 }
