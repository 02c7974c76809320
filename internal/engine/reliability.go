package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/sentinel-gateway/internal/connectors"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig — лимиты вокруг обработчика одного инструмента.
type ReliabilityConfig struct {
	Timeout   time.Duration
	RateLimit float64
	RateBurst int

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32

	// Повторы только для ThrottleError от коннектора
	RetryAttempts uint
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBFailures == 0 {
		c.CBFailures = 5
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	return c
}

// ReliabilityWrapper оборачивает обработчик: rate limit, circuit breaker,
// таймаут и перехват паники. Паника или зависание обработчика не задевают шлюз.
type ReliabilityWrapper struct {
	tool    string
	next    domain.ToolHandler
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	logger  *zap.Logger
}

func NewReliabilityWrapper(tool string, next domain.ToolHandler, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log := logger.Named("reliability").With(zap.String("tool", tool))

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        tool,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.CBFailures
		},
		// Ошибки клиента не говорят о поломке обработчика
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var te *domain.ToolError
			return errors.As(err, &te) && te.Category != domain.CategoryTool && te.Category != domain.CategoryServer
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})

	return &ReliabilityWrapper{
		tool:    tool,
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
		logger:  log,
	}
}

// Handle исполняет вызов. Все ошибки на выходе — *domain.ToolError.
func (w *ReliabilityWrapper) Handle(ctx context.Context, call domain.ToolCall) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	// 1. Rate Limiter
	if err := w.limiter.Wait(tctx); err != nil {
		if tctx.Err() != nil {
			return nil, w.classify(ctx, tctx.Err())
		}
		return nil, domain.NewToolError(domain.CodeToolExecutionFailed, "Rate limit exceeded", map[string]any{"tool": w.tool})
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (any, error) {
		var out any
		r := retry.New(
			retry.Context(tctx),
			retry.Attempts(w.cfg.RetryAttempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				var tErr *connectors.ThrottleError
				return errors.As(err, &tErr)
			}),
			// Если коннектор вернул ThrottleError, ждём столько, сколько он попросил
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)
		err := r.Do(func() error {
			var callErr error
			out, callErr = w.run(tctx, call)
			return callErr
		})
		return out, err
	})
	if err != nil {
		return nil, w.classify(ctx, err)
	}
	return res, nil
}

type handlerResult struct {
	data any
	err  error
}

// errHandlerPanic — обработчик упал с паникой.
var errHandlerPanic = errors.New("tool handler panicked")

// run запускает обработчик в своей горутине и не ждёт его дольше ctx.
func (w *ReliabilityWrapper) run(ctx context.Context, call domain.ToolCall) (any, error) {
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("tool handler panic", zap.Any("panic", r), zap.String("trace_id", call.Caller.TraceID))
				done <- handlerResult{err: errHandlerPanic}
			}
		}()
		data, err := w.next.Handle(ctx, call)
		done <- handlerResult{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classify приводит ошибку к каталогу. ctx — исходный контекст запроса:
// по нему отличаем таймаут шлюза от отмены клиентом.
func (w *ReliabilityWrapper) classify(ctx context.Context, err error) error {
	var te *domain.ToolError
	switch {
	case errors.As(err, &te):
		// Обработчик мог собрать ToolError сам, в обход каталога
		return domain.NormalizeToolError(te, domain.CodeToolExecutionFailed)
	case ctx.Err() != nil:
		return domain.NewToolError(domain.CodeToolExecutionFailed, "Call cancelled by client",
			map[string]any{"tool": w.tool, "cancelled": true})
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewToolError(domain.CodeToolTimeout,
			fmt.Sprintf("Tool did not finish within %s", w.cfg.Timeout),
			map[string]any{"tool": w.tool, "timeoutMs": w.cfg.Timeout.Milliseconds()})
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.NewToolError(domain.CodeToolExecutionFailed, "Tool is temporarily unavailable",
			map[string]any{"tool": w.tool, "circuit": w.cb.State().String()})
	}

	w.logger.Error("tool handler failed", zap.Error(err))
	return domain.NewToolError(domain.CodeToolExecutionFailed, "Tool execution failed", map[string]any{"tool": w.tool})
}

// State — текущее состояние предохранителя.
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	}
	return 0
}
