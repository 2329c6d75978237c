// Package runner executes provider calls with retries, rate limits,
// bounded concurrency, and per-operation cancellation.
//
// Every call and stream runs as an Operation with a caller-visible ID.
// Transient failures are retried with capped exponential backoff and
// jitter; a Retry-After hint from the provider overrides the computed
// delay. Cancelling an operation ID aborts the underlying request and
// surfaces a cancellation error to the waiting caller.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/plumehq/plume/provider"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 8 * time.Second
)

// Operation is one unit of work against a provider.
type Operation struct {
	// ID identifies the operation for cancellation. Assigned
	// automatically when empty.
	ID       string
	Provider provider.Provider
	Request  *provider.Request
}

func (op Operation) model() string {
	if op.Request == nil {
		return ""
	}
	return op.Request.Model
}

// Config controls retry, timeout, and concurrency behavior.
// Zero values select the defaults noted on each field.
type Config struct {
	// MaxAttempts is the total number of tries per operation,
	// including the first. Default 3.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each retry
	// doubles it. Default 500ms.
	BackoffBase time.Duration

	// BackoffCap bounds the computed delay. Default 8s.
	BackoffCap time.Duration

	// AttemptTimeout bounds a single non-streaming attempt.
	// Zero means no per-attempt timeout.
	AttemptTimeout time.Duration

	// MaxConcurrent bounds how many operations run at once.
	// Zero means unlimited.
	MaxConcurrent int

	Logger *slog.Logger
}

// Runner executes operations. Safe for concurrent use.
type Runner struct {
	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
	attemptTimeout time.Duration

	sem chan struct{}
	ops *operationSet

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Runner with cfg's zero values replaced by defaults.
func New(cfg Config) *Runner {
	r := &Runner{
		maxAttempts:    cfg.MaxAttempts,
		backoffBase:    cfg.BackoffBase,
		backoffCap:     cfg.BackoffCap,
		attemptTimeout: cfg.AttemptTimeout,
		ops:            newOperationSet(),
		limiters:       make(map[string]*rate.Limiter),
		log:            cfg.Logger,
		sleep:          sleepCtx,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.backoffBase <= 0 {
		r.backoffBase = defaultBackoffBase
	}
	if r.backoffCap <= 0 {
		r.backoffCap = defaultBackoffCap
	}
	if cfg.MaxConcurrent > 0 {
		r.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	return r
}

// SetRateLimit installs a token-bucket limiter for a provider name.
// A non-positive rps removes the limiter.
func (r *Runner) SetRateLimit(providerName string, rps float64, burst int) {
	r.limMu.Lock()
	defer r.limMu.Unlock()

	if rps <= 0 {
		delete(r.limiters, providerName)
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiters[providerName] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Do executes one non-streaming operation, retrying transient failures
// up to the attempt ceiling. The returned error is the final attempt's
// error, not a retry wrapper, so callers can classify it directly.
func (r *Runner) Do(ctx context.Context, op Operation) (*provider.Response, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if err := r.acquire(ctx, op); err != nil {
		return nil, err
	}
	defer r.release()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.ops.add(op.ID, cancel); err != nil {
		return nil, err
	}
	defer r.ops.remove(op.ID)

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.waitRate(opCtx, op.Provider.Name()); err != nil {
			return nil, cancellationError(op, opCtx.Err())
		}

		resp, err := r.attempt(opCtx, op)
		if err == nil {
			return resp, nil
		}
		if opCtx.Err() != nil {
			return nil, cancellationError(op, opCtx.Err())
		}

		lastErr = err
		if attempt == r.maxAttempts || !retryable(err) {
			break
		}

		delay := r.delay(attempt, err)
		r.log.Debug("retrying operation",
			"operation", op.ID,
			"provider", op.Provider.Name(),
			"model", op.model(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if serr := r.sleep(opCtx, delay); serr != nil {
			return nil, cancellationError(op, opCtx.Err())
		}
	}
	return nil, lastErr
}

func (r *Runner) attempt(ctx context.Context, op Operation) (*provider.Response, error) {
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}
	return op.Provider.Call(ctx, op.Request)
}

// Stream opens a streaming operation. Connection failures are retried
// like Do; once the stream is open, read errors are terminal. The
// returned stream releases the runner's concurrency slot and
// unregisters the operation when it is exhausted or closed.
func (r *Runner) Stream(ctx context.Context, op Operation) (provider.ResponseStream, error) {
	sp, ok := op.Provider.(provider.StreamingProvider)
	if !ok {
		return nil, &provider.Error{
			Kind:     provider.KindUnsupportedShape,
			Provider: op.Provider.Name(),
			Model:    op.model(),
			Message:  "provider does not support streaming",
		}
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if err := r.acquire(ctx, op); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithCancel(ctx)
	if err := r.ops.add(op.ID, cancel); err != nil {
		cancel()
		r.release()
		return nil, err
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			r.ops.remove(op.ID)
			cancel()
			r.release()
		})
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.waitRate(opCtx, op.Provider.Name()); err != nil {
			finish()
			return nil, cancellationError(op, opCtx.Err())
		}

		st, err := sp.CallStream(opCtx, op.Request)
		if err == nil {
			return &managedStream{inner: st, ctx: opCtx, op: op, finish: finish}, nil
		}
		if opCtx.Err() != nil {
			finish()
			return nil, cancellationError(op, opCtx.Err())
		}

		lastErr = err
		if attempt == r.maxAttempts || !retryable(err) {
			break
		}

		delay := r.delay(attempt, err)
		r.log.Debug("retrying stream",
			"operation", op.ID,
			"provider", op.Provider.Name(),
			"model", op.model(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if serr := r.sleep(opCtx, delay); serr != nil {
			finish()
			return nil, cancellationError(op, opCtx.Err())
		}
	}
	finish()
	return nil, lastErr
}

// Cancel aborts the operation with the given ID. It reports whether an
// operation was actually cancelled; cancelling an unknown or finished
// ID is a no-op.
func (r *Runner) Cancel(operationID string) bool {
	return r.ops.cancel(operationID)
}

// Active returns the IDs of operations currently in flight, sorted.
func (r *Runner) Active() []string {
	return r.ops.active()
}

func (r *Runner) acquire(ctx context.Context, op Operation) error {
	if r.sem == nil {
		return nil
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return cancellationError(op, ctx.Err())
	}
}

func (r *Runner) release() {
	if r.sem != nil {
		<-r.sem
	}
}

func (r *Runner) waitRate(ctx context.Context, providerName string) error {
	r.limMu.Lock()
	lim := r.limiters[providerName]
	r.limMu.Unlock()

	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// delay computes the pause before the next attempt: exponential growth
// from the base, capped, with up to 25% jitter. A Retry-After hint from
// the provider takes precedence.
func (r *Runner) delay(attempt int, err error) time.Duration {
	if pe, ok := provider.AsError(err); ok && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}

	d := r.backoffBase << (attempt - 1)
	if d > r.backoffCap || d <= 0 {
		d = r.backoffCap
	}
	return d + rand.N(d/4+1)
}

func retryable(err error) bool {
	if pe, ok := provider.AsError(err); ok {
		return pe.Retryable()
	}
	// A per-attempt timeout is transient as long as the operation
	// context itself is still live.
	return errors.Is(err, context.DeadlineExceeded)
}

func cancellationError(op Operation, cause error) error {
	return &provider.Error{
		Kind:     provider.KindCancelled,
		Provider: op.Provider.Name(),
		Model:    op.model(),
		Message:  "operation cancelled",
		Cause:    cause,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
