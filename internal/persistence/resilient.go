package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// RetryConfig configures retries of failed statements.
//
// Every statement the graph layer issues is idempotent, so a statement may
// be retried whenever its failure is transient.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Enabled          bool
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// ResilienceConfig bundles the per-call policies applied by Resilient.
type ResilienceConfig struct {
	// Timeout bounds a single attempt. Zero disables it.
	Timeout time.Duration
	Retry   RetryConfig
	Breaker BreakerConfig
}

// DefaultResilienceConfig returns sensible defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout: 5 * time.Second,
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

// Resilient wraps a Session with a per-attempt timeout, retry with
// exponential backoff and jitter on transient failures, and a circuit
// breaker. Non-transient failures are returned unchanged on first sight.
type Resilient struct {
	inner   Session
	config  ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

var _ Session = (*Resilient)(nil)

// NewResilient creates the decorator.
func NewResilient(inner Session, config ResilienceConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resilient{
		inner:  inner,
		config: config,
		logger: logger.Named("resilient_session"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if config.Breaker.Enabled {
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "store:" + inner.Keyspace(),
			MaxRequests: config.Breaker.MaxRequests,
			Interval:    config.Breaker.Interval,
			Timeout:     config.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < config.Breaker.MinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= config.Breaker.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				r.logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
			// Caller mistakes must not open the circuit.
			IsSuccessful: func(err error) bool {
				return err == nil || !appErrors.IsRetryable(err)
			},
		})
	}
	return r
}

// Keyspace implements Session.
func (r *Resilient) Keyspace() string {
	return r.inner.Keyspace()
}

// CreateKeyspace implements Session.
func (r *Resilient) CreateKeyspace(ctx context.Context, spec KeyspaceSpec) error {
	return r.executeWithRetry(ctx, "create_keyspace", func(ctx context.Context) error {
		return r.inner.CreateKeyspace(ctx, spec)
	})
}

// CreateTable implements Session. DDL is not bounded by the per-call
// timeout since table creation may wait for the store to provision.
func (r *Resilient) CreateTable(ctx context.Context, spec TableSpec) error {
	return r.executeWithRetry(ctx, "create_table", func(ctx context.Context) error {
		return r.inner.CreateTable(ctx, spec)
	})
}

// Execute implements Session.
func (r *Resilient) Execute(ctx context.Context, stmt Statement) (*ResultSet, error) {
	var result *ResultSet
	err := r.executeWithRetry(ctx, stmt.Op.String(), func(ctx context.Context) error {
		return r.guarded(ctx, func(ctx context.Context) error {
			var err error
			result, err = r.inner.Execute(ctx, stmt)
			return err
		})
	})
	return result, err
}

// Partitions implements Session. Enumeration is retried only until fn has
// seen its first partition, since a restart would repeat partitions.
func (r *Resilient) Partitions(ctx context.Context, table string, fn func(partition string) error) error {
	started := false
	return r.executeWithRetry(ctx, "partitions", func(ctx context.Context) error {
		err := r.breakerExecute(func() error {
			return r.inner.Partitions(ctx, table, func(p string) error {
				started = true
				return fn(p)
			})
		})
		if err != nil && started {
			return finalError{err: err}
		}
		return err
	})
}

// finalError ends executeWithRetry with err as is.
type finalError struct {
	err error
}

func (e finalError) Error() string { return e.err.Error() }
func (e finalError) Unwrap() error { return e.err }

// Close implements Session.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

// guarded runs fn under the per-attempt timeout and the breaker.
func (r *Resilient) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.breakerExecute(func() error {
		if r.config.Timeout <= 0 {
			return fn(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return appErrors.NewTimeoutError("store call", err)
		}
		return err
	})
}

func (r *Resilient) breakerExecute(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewConnectivityError("circuit breaker", err)
	}
	return err
}

func (r *Resilient) executeWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	maxRetries := r.config.Retry.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		var final finalError
		if errors.As(err, &final) {
			return final.err
		}
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if attempt >= maxRetries || !r.shouldRetry(err) {
			break
		}

		delay := r.calculateDelay(attempt)
		r.logger.Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}

	if maxRetries > 0 && r.shouldRetry(lastErr) {
		return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries+1, lastErr)
	}
	return lastErr
}

func (r *Resilient) shouldRetry(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return appErrors.IsRetryable(err)
}

func (r *Resilient) calculateDelay(attempt int) time.Duration {
	cfg := r.config.Retry
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		r.randMu.Lock()
		jitter := (r.rand.Float64()*2 - 1) * cfg.JitterFactor * delay
		r.randMu.Unlock()
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
