package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/cache"
	"github.com/voxen-labs/voxen/pkg/executor"
)

const summarySystemPrompt = `You are a call analyst. Summarize the following phone call transcript in 2-3 sentences.
State the caller's intent, the outcome, and any follow-up that was agreed. Reply in plain text.`

// Summarizer 通话后摘要器。
// 以转写全文的指纹作为缓存键，同一通话重复触发摘要时直接复用结果。
type Summarizer struct {
	provider Provider
	cache    cache.Cache
	exec     *executor.Executor
	logger   *zap.Logger

	model  string
	ttl    time.Duration
	policy executor.Policy

	onCacheHit  func()
	onCacheMiss func()
}

// SetCacheObserver 挂载缓存命中观测回调，用于指标上报
func (s *Summarizer) SetCacheObserver(hit, miss func()) {
	s.onCacheHit = hit
	s.onCacheMiss = miss
}

// NewSummarizer 创建摘要器。cache 可以为 nil，此时每次都会调用模型。
func NewSummarizer(provider Provider, c cache.Cache, exec *executor.Executor, model string, logger *zap.Logger) *Summarizer {
	return &Summarizer{
		provider: provider,
		cache:    c,
		exec:     exec,
		logger:   logger,
		model:    model,
		ttl:      24 * time.Hour,
		policy:   executor.DefaultPolicy(),
	}
}

// Summarize 生成一次通话摘要
func (s *Summarizer) Summarize(ctx context.Context, callID, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", nil
	}

	key := cache.Fingerprint("llm", s.model, transcript)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			if s.onCacheHit != nil {
				s.onCacheHit()
			}
			s.logger.Debug("摘要命中缓存", zap.String("call_id", callID))
			return cached, nil
		}
		if s.onCacheMiss != nil {
			s.onCacheMiss()
		}
	}

	summary, err := executor.Do(ctx, s.exec, "llm", s.policy, func(ctx context.Context) (string, error) {
		return s.provider.Complete(ctx, CompletionRequest{
			Model:        s.model,
			SystemPrompt: summarySystemPrompt,
			Prompt:       transcript,
			Temperature:  0.3,
			MaxTokens:    256,
		})
	})
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		// 缓存失败不影响结果
		if err := s.cache.Set(ctx, key, summary, s.ttl); err != nil {
			s.logger.Warn("摘要写入缓存失败", zap.String("call_id", callID), zap.Error(err))
		}
	}
	return summary, nil
}
