package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

// Controller wraps calls to an external provider. Every call to YouTube, the
// AI providers and the mail provider goes through one.
type Controller interface {
	Do(ctx context.Context, provider string, op func(ctx context.Context) error) error
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, c Controller, provider string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, provider, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	return result, err
}

// Budget is a per provider token bucket. A RequestsPerMinute of zero means
// unlimited.
type Budget struct {
	RequestsPerMinute int
	Burst             int
}

type Config struct {
	MaxAttempts   int
	InitialWait   time.Duration
	MaxWait       time.Duration
	MaxElapsed    time.Duration
	MaxRateWait   time.Duration
	DefaultBudget Budget
	Budgets       map[string]Budget
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
		MaxElapsed:  10 * time.Minute,
		MaxRateWait: 2 * time.Minute,
		DefaultBudget: Budget{
			RequestsPerMinute: 60,
			Burst:             5,
		},
		Budgets: map[string]Budget{
			"youtube":          {RequestsPerMinute: 100, Burst: 10},
			"youtube-captions": {RequestsPerMinute: 30, Burst: 3},
			"openai":           {RequestsPerMinute: 60, Burst: 5},
			"groq":             {RequestsPerMinute: 20, Burst: 2},
			"postmark":         {RequestsPerMinute: 10, Burst: 1},
		},
	}
}

type Option func(*Envelope)

// WithBackOff replaces the exponential backoff policy, mostly for tests that
// need a deterministic schedule.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *Envelope) {
		e.newBackOff = newBackOff
	}
}

// Envelope is the Controller used in production: a token bucket per provider
// and exponential backoff with jitter for transient failures.
type Envelope struct {
	config     Config
	newBackOff func() backoff.BackOff
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(config Config, logger *slog.Logger, opts ...Option) *Envelope {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	e := &Envelope{
		config:   config,
		logger:   logger,
		limiters: map[string]*rate.Limiter{},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = config.InitialWait
			bo.MaxInterval = config.MaxWait
			return bo
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Envelope) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	var (
		attempts  int
		lastErr   error
		permanent bool
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := e.wait(ctx, provider); err != nil {
			lastErr, permanent = err, true
			return struct{}{}, backoff.Permanent(err)
		}
		err := op(ctx)
		if err == nil {
			lastErr = nil
			return struct{}{}, nil
		}
		lastErr = err
		if !IsTransient(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(e.config.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.logger.Debug("retrying", slog.String("provider", provider), slog.Int("attempt", attempts), slog.Duration("wait", wait), slog.String("error", err.Error()))
		}),
	)
	switch {
	case err == nil:
		return nil
	case lastErr == nil:
		// cancelled while waiting between attempts
		return err
	case permanent:
		return lastErr
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", provider, errors.Join(ctx.Err(), lastErr))
	default:
		return fmt.Errorf("%w: %s gave up after %d attempts: %w", model.ErrRateLimited, provider, attempts, lastErr)
	}
}

func (e *Envelope) wait(ctx context.Context, provider string) error {
	lim := e.limiter(provider)
	if lim == nil {
		return nil
	}

	waitCtx := ctx
	if e.config.MaxRateWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.config.MaxRateWait)
		defer cancel()
	}
	if err := lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s request budget exhausted after waiting %s", model.ErrRateLimited, provider, e.config.MaxRateWait)
	}

	return nil
}

func (e *Envelope) limiter(provider string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lim, ok := e.limiters[provider]; ok {
		return lim
	}
	budget, ok := e.config.Budgets[provider]
	if !ok {
		budget = e.config.DefaultBudget
	}
	var lim *rate.Limiter
	if budget.RequestsPerMinute > 0 {
		burst := budget.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(budget.RequestsPerMinute)), burst)
	}
	e.limiters[provider] = lim

	return lim
}

// Passthrough calls op exactly once, without budget or retries.
type Passthrough struct{}

func (Passthrough) Do(ctx context.Context, _ string, op func(ctx context.Context) error) error {
	return op(ctx)
}
