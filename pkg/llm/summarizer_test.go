package llm

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/cache"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/executor"
)

type fakeProvider struct {
	calls    atomic.Int32
	response string
	failures int32
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", errhandler.NewTransientError("llm", "upstream timeout", nil)
	}
	return f.response, nil
}

func newTestSummarizer(t *testing.T, p Provider) *Summarizer {
	c, err := cache.New(cache.Config{Type: "local"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	s := NewSummarizer(p, c, executor.New(zap.NewNop()), "gpt-4o-mini", zap.NewNop())
	s.policy.BaseDelay = 0
	s.policy.Jitter = false
	return s
}

func TestSummarizeCachesByTranscript(t *testing.T) {
	p := &fakeProvider{response: "Caller booked a demo for Tuesday."}
	s := newTestSummarizer(t, p)

	first, err := s.Summarize(context.Background(), "call-1", "agent: hi\ncaller: book me a demo")
	require.NoError(t, err)
	assert.Equal(t, "Caller booked a demo for Tuesday.", first)

	// 同一转写再次摘要不再调用模型，通话 ID 无关紧要
	second, err := s.Summarize(context.Background(), "call-2", "agent: hi\ncaller: book me a demo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestSummarizeRetriesTransientFailure(t *testing.T) {
	p := &fakeProvider{response: "Short call, wrong number.", failures: 2}
	s := newTestSummarizer(t, p)

	summary, err := s.Summarize(context.Background(), "call-1", "caller: sorry, wrong number")
	require.NoError(t, err)
	assert.Equal(t, "Short call, wrong number.", summary)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	p := &fakeProvider{response: "should not be called"}
	s := newTestSummarizer(t, p)

	summary, err := s.Summarize(context.Background(), "call-1", "   ")
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Equal(t, int32(0), p.calls.Load())
}
