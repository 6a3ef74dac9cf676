package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"go.uber.org/zap"
)

func testGovernor(rate int64, window time.Duration, maxCalls int) *Governor {
	return New(Config{
		RateLimit:          rate,
		RateWindow:         window,
		MaxConcurrentCalls: maxCalls,
	}, zap.NewNop())
}

func TestAllowRejectsBeyondWindowLimit(t *testing.T) {
	g := testGovernor(3, time.Minute, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Allow(ctx, "tenant-a", "calls"))
	}

	err := g.Allow(ctx, "tenant-a", "calls")
	require.Error(t, err)
	assert.True(t, errhandler.IsAdmissionRejected(err))

	// a different tenant has its own window
	assert.NoError(t, g.Allow(ctx, "tenant-b", "calls"))
}

func TestAllowPermitsAfterWindowExpiry(t *testing.T) {
	g := testGovernor(1, 50*time.Millisecond, 10)
	ctx := context.Background()

	require.NoError(t, g.Allow(ctx, "tenant-a", "calls"))
	require.Error(t, g.Allow(ctx, "tenant-a", "calls"))

	time.Sleep(80 * time.Millisecond)
	assert.NoError(t, g.Allow(ctx, "tenant-a", "calls"))
}

func TestAdmitBoundScenario(t *testing.T) {
	g := testGovernor(100, time.Minute, 1)
	ctx := context.Background()

	// bound=1: first admission succeeds
	token, err := g.Admit(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, g.ActiveCalls("tenant-a"))

	// second admission before release is rejected
	_, err = g.Admit(ctx, "tenant-a")
	require.Error(t, err)
	assert.True(t, errhandler.IsAdmissionRejected(err))

	// call ends, token released
	token.Release()
	assert.Equal(t, 0, g.ActiveCalls("tenant-a"))

	// third admission succeeds again
	token2, err := g.Admit(ctx, "tenant-a")
	require.NoError(t, err)
	token2.Release()
}

func TestTokenReleaseIdempotent(t *testing.T) {
	g := testGovernor(100, time.Minute, 2)

	token, err := g.Admit(context.Background(), "tenant-a")
	require.NoError(t, err)

	token.Release()
	token.Release()
	token.Release()

	assert.Equal(t, 0, g.ActiveCalls("tenant-a"))

	// a double release must not free a slot held by someone else
	t1, err := g.Admit(context.Background(), "tenant-a")
	require.NoError(t, err)
	t2, err := g.Admit(context.Background(), "tenant-a")
	require.NoError(t, err)
	token.Release()
	assert.Equal(t, 2, g.ActiveCalls("tenant-a"))
	t1.Release()
	t2.Release()
}

func TestNoTokenLeaksUnderConcurrency(t *testing.T) {
	g := testGovernor(10000, time.Minute, 8)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				token, err := g.Admit(ctx, "tenant-a")
				if err != nil {
					continue
				}
				token.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, g.ActiveCalls("tenant-a"))
}

func TestAdmitNeverExceedsBound(t *testing.T) {
	g := testGovernor(10000, time.Minute, 3)
	ctx := context.Background()

	var mu sync.Mutex
	var tokens []*Token
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := g.Admit(ctx, "tenant-a")
			if err == nil {
				mu.Lock()
				tokens = append(tokens, token)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, tokens, 3)
	assert.Equal(t, 3, g.ActiveCalls("tenant-a"))
	for _, token := range tokens {
		token.Release()
	}
	assert.Equal(t, 0, g.ActiveCalls("tenant-a"))
}
