package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

type ReliabilityConfig struct {
	RatePerSecond float64
	Burst         int
	Attempts      uint
	CallTimeout   time.Duration
	// Открыть предохранитель после стольких ошибок подряд
	TripAfter     uint32
	OpenTimeout   time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RatePerSecond: 5,
		Burst:         5,
		Attempts:      3,
		CallTimeout:   60 * time.Second,
		TripAfter:     5,
		OpenTimeout:   30 * time.Second,
	}
}

// ReliableGenerator оборачивает Generator лимитером, предохранителем и ретраями.
type ReliableGenerator struct {
	next     Generator
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliableGenerator(next Generator, cfg ReliabilityConfig) *ReliableGenerator {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-advisor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout, // Через сколько CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.TripAfter
		},
		OnStateChange: cfg.OnStateChange,
	})

	return &ReliableGenerator{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		attempts: cfg.Attempts,
		timeout:  cfg.CallTimeout,
	}
}

func (w *ReliableGenerator) State() gobreaker.State { return w.cb.State() }

func (w *ReliableGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Модель сама сказала, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		var text string
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			text, callErr = w.next.Generate(tCtx, prompt)
			return callErr
		})
		return text, retryErr
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}
