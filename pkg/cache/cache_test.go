package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalCacheRoundTrip(t *testing.T) {
	c := NewLocalCache(LocalConfig{}, zap.NewNop())
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, c.Exists(ctx, "k"))

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLocalCacheTTLExpiry(t *testing.T) {
	c := NewLocalCache(LocalConfig{
		DefaultExpiration: time.Minute,
		CleanupInterval:   time.Minute,
	}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewDefaultsToLocal(t *testing.T) {
	c, err := New(Config{Type: "local"}, zap.NewNop())
	require.NoError(t, err)
	_, isLocal := c.(*LocalCache)
	assert.True(t, isLocal)
}

func TestFingerprintStableAcrossFieldOrder(t *testing.T) {
	a := map[string]interface{}{"prompt": "hi", "temperature": 0.2}
	b := map[string]interface{}{"temperature": 0.2, "prompt": "hi"}

	assert.Equal(t,
		Fingerprint("openai", "gpt-4o", a),
		Fingerprint("openai", "gpt-4o", b),
	)
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	base := Fingerprint("openai", "gpt-4o", "summarize this call")

	assert.NotEqual(t, base, Fingerprint("openai", "gpt-4o", "summarize that call"))
	assert.NotEqual(t, base, Fingerprint("openai", "gpt-4o-mini", "summarize this call"))
	assert.NotEqual(t, base, Fingerprint("anthropic", "gpt-4o", "summarize this call"))
}

func TestFingerprintStructPayload(t *testing.T) {
	type req struct {
		Prompt string  `json:"prompt"`
		Temp   float64 `json:"temp"`
	}
	assert.Equal(t,
		Fingerprint("openai", "gpt-4o", req{Prompt: "x", Temp: 1}),
		Fingerprint("openai", "gpt-4o", map[string]interface{}{"prompt": "x", "temp": 1.0}),
	)
}
