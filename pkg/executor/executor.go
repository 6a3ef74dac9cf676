package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/voxen-labs/voxen/pkg/errhandler"
	"go.uber.org/zap"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RateLimitDelay time.Duration // 被上游限流时的额外基础延迟
	// Classify 判断错误是否可重试；为 nil 时使用 errhandler.IsTransient
	Classify func(error) bool
}

// DefaultPolicy 默认策略：3 次尝试，指数退避
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RateLimitDelay: 5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Classify == nil {
		p.Classify = errhandler.IsTransient
	}
	return p
}

// NextDelay 计算第 attempt 次失败后的退避延迟（attempt 从 1 开始）
func (p Policy) NextDelay(attempt int, err error) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * pow(p.Multiplier, float64(attempt-1)))
	if p.RateLimitDelay > 0 && errhandler.IsRateLimitError(err) {
		// 被上游限流时在指数退避前额外加一段固定延迟
		delay += p.RateLimitDelay
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		// 全抖动，避免多个调用方同时重试
		delay = time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return delay
}

// ExhaustedError 重试次数耗尽后的错误，携带尝试次数
type ExhaustedError struct {
	Service  string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("[%s] all %d attempts failed: %v", e.Service, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// RetryObservation 单次重试的观测信息，供遥测消费
type RetryObservation struct {
	Service string
	Attempt int
	Delay   time.Duration
	Err     error
}

// Executor 对所有出站 provider 调用统一做重试与退避
type Executor struct {
	logger  *zap.Logger
	onRetry func(RetryObservation)
}

// New 创建执行器
func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// OnRetry 设置重试观测回调（每次延迟前触发一次）
func (e *Executor) OnRetry(fn func(RetryObservation)) {
	e.onRetry = fn
}

// Execute 执行无返回值的操作
func (e *Executor) Execute(ctx context.Context, service string, policy Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, service, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do 执行操作并返回结果。只有策略判定为临时错误才重试；
// 其余错误立即原样返回。重试耗尽后返回 *ExhaustedError。
func Do[T any](ctx context.Context, e *Executor, service string, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p := policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.Classify(err) {
			return zero, err
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.NextDelay(attempt, err)
		e.observe(RetryObservation{Service: service, Attempt: attempt, Delay: delay, Err: err})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	exhausted := &ExhaustedError{Service: service, Attempts: p.MaxAttempts, LastErr: lastErr}
	// 耗尽后重分类为致命，调用方不再重试
	return zero, errhandler.NewFatalError(service, exhausted.Error(), exhausted)
}

func (e *Executor) observe(obs RetryObservation) {
	e.logger.Warn("provider call failed, retrying",
		zap.String("service", obs.Service),
		zap.Int("attempt", obs.Attempt),
		zap.Duration("delay", obs.Delay),
		zap.Error(obs.Err),
	)
	if e.onRetry != nil {
		e.onRetry(obs)
	}
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
