package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/attackmap/internal/connectors"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher делает сырой GET к REST-апстриму.
type Fetcher interface {
	Get(ctx context.Context, endpoint string) ([]byte, error)
}

// Нулевые значения ReliabilityOptions заменяются дефолтами.
type ReliabilityOptions struct {
	RateLimit      float64 // Запросов в секунду
	Burst          int
	Attempts       uint
	RequestTimeout time.Duration // На одну попытку
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration // Время, через которое CB попробует "закрыться"
	CBFailures     uint32        // Ошибок подряд до открытия
}

func (o ReliabilityOptions) withDefaults() ReliabilityOptions {
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.CBMaxRequests == 0 {
		o.CBMaxRequests = 1
	}
	if o.CBInterval <= 0 {
		o.CBInterval = 30 * time.Second
	}
	if o.CBTimeout <= 0 {
		o.CBTimeout = 30 * time.Second
	}
	if o.CBFailures == 0 {
		o.CBFailures = 5
	}
	return o
}

// ReliabilityWrapper: Rate Limiter -> Circuit Breaker (по эндпоинту) -> Retry.
type ReliabilityWrapper struct {
	next    Fetcher
	opts    ReliabilityOptions
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewReliabilityWrapper(next Fetcher, opts ReliabilityOptions, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	opts = opts.withDefaults()
	return &ReliabilityWrapper{
		next:     next,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "reliability")),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (w *ReliabilityWrapper) breaker(endpoint string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: w.opts.CBMaxRequests,
		Interval:    w.opts.CBInterval,
		Timeout:     w.opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= w.opts.CBFailures
		},
		// Отмена со стороны клиента не говорит о здоровье апстрима
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			w.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	w.breakers[endpoint] = cb
	w.metrics.CircuitBreakerState.WithLabelValues(endpoint).Set(float64(gobreaker.StateClosed))
	return cb
}

func (w *ReliabilityWrapper) Get(ctx context.Context, endpoint string) ([]byte, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		w.metrics.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	}()

	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		status = "rate_limited"
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	_, err := w.breaker(endpoint).Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.opts.Attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Апстрим сам сказал, сколько ждать (Retry-After)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка) работает стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.opts.RequestTimeout)
			defer cancel()

			data, callErr := w.next.Get(tCtx, endpoint)
			if callErr != nil {
				// троттлинг повторяем после Retry-After, прочие 4xx бессмысленно
				var tErr *connectors.ThrottleError
				if errors.As(callErr, &tErr) {
					return callErr
				}
				var sErr *connectors.StatusError
				if errors.As(callErr, &sErr) && !sErr.Temporary() {
					return retry.Unrecoverable(callErr)
				}
				return callErr
			}
			finalData = data
			return nil
		})
	})

	if err != nil {
		status = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
		}
		return nil, fmt.Errorf("upstream %s: %w", endpoint, err)
	}
	return finalData, nil
}
