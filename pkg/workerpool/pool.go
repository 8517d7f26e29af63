// Package workerpool runs bounded, order-preserving fan-out work such as
// per-member reports.
package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config bounds a pool.
type Config struct {
	Workers int
	// MaxRetries is how often a failing item is tried again before Map
	// gives up. RetryDelay grows linearly with each retry.
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig is sized for a household, not a fleet.
func DefaultConfig() Config {
	return Config{Workers: 4, RetryDelay: 50 * time.Millisecond}
}

// Pool holds the limits shared by Map calls. It keeps no goroutines
// between calls.
type Pool struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a pool. Non-positive Workers use the default.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, logger: logger}
}

// Stats describes one Map call.
type Stats struct {
	Items    int
	Workers  int
	Attempts int64
	Retries  int64
	Elapsed  time.Duration
}

// Map applies fn to every item on at most Workers goroutines and returns
// the results in input order. The first error cancels the items not yet
// started and is returned.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, Stats, error) {
	start := time.Now()
	out := make([]R, len(items))
	workers := min(p.cfg.Workers, len(items))

	var attempts, retries atomic.Int64
	stats := func() Stats {
		return Stats{
			Items:    len(items),
			Workers:  workers,
			Attempts: attempts.Load(),
			Retries:  retries.Load(),
			Elapsed:  time.Since(start),
		}
	}
	if len(items) == 0 {
		return out, stats(), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	next := make(chan int)
	g.Go(func() error {
		defer close(next)
		for i := range items {
			select {
			case next <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range next {
				r, err := retry(gctx, p, &attempts, &retries, func(ctx context.Context) (R, error) {
					return fn(ctx, items[i])
				})
				if err != nil {
					p.logger.Warn("work item failed", zap.Int("item", i), zap.Error(err))
					return err
				}
				out[i] = r
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats(), err
	}
	return out, stats(), nil
}

func retry[R any](ctx context.Context, p *Pool, attempts, retries *atomic.Int64, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		attempts.Add(1)
		r, err := fn(ctx)
		if err == nil {
			return r, nil
		}
		if n >= p.cfg.MaxRetries {
			if n == 0 {
				return zero, err
			}
			return zero, fmt.Errorf("failed after %d attempts: %w", n+1, err)
		}

		retries.Add(1)
		p.logger.Debug("retrying work item", zap.Int("attempt", n+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.cfg.RetryDelay * time.Duration(n+1)):
		}
	}
}
