package stt

import (
	"encoding/json"
	"testing"

	interfacesv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/errhandler"
)

func decodeMessage(t *testing.T, raw string) *interfacesv1.MessageResponse {
	var mr interfacesv1.MessageResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &mr))
	return &mr
}

func TestMessageCallbackEmitsFragment(t *testing.T) {
	s := newDeepgramSession(8, zap.NewNop())
	cb := &deepgramCallback{s: s}

	mr := decodeMessage(t, `{
		"is_final": true,
		"start": 1.5,
		"channel_index": [0, 1],
		"channel": {"alternatives": [{"transcript": " hello there ", "confidence": 0.97}]}
	}`)
	require.NoError(t, cb.Message(mr))

	ev := <-s.Events()
	assert.Equal(t, "hello there", ev.Text)
	assert.Equal(t, 1.5, ev.OffsetSec)
	assert.Equal(t, 0, ev.Channel)
	assert.InDelta(t, 0.97, ev.Confidence, 0.001)
	assert.True(t, ev.Final)
}

func TestMessageCallbackSkipsEmptyTranscript(t *testing.T) {
	s := newDeepgramSession(8, zap.NewNop())
	cb := &deepgramCallback{s: s}

	require.NoError(t, cb.Message(decodeMessage(t, `{"channel": {"alternatives": []}}`)))
	require.NoError(t, cb.Message(decodeMessage(t, `{"channel": {"alternatives": [{"transcript": "   "}]}}`)))
	assert.Empty(t, s.Events())
}

func TestErrorCallbackFinishesSession(t *testing.T) {
	s := newDeepgramSession(8, zap.NewNop())
	cb := &deepgramCallback{s: s}

	require.NoError(t, cb.Error(&interfacesv1.ErrorResponse{ErrCode: "1011", ErrMsg: "timeout"}))

	_, open := <-s.Events()
	assert.False(t, open)
	assert.True(t, errhandler.IsTransient(s.Err()))

	// repeat finish is a no-op
	require.NoError(t, s.Close())
	assert.Error(t, s.Err())
}

func TestCloseCallbackIsCleanFinish(t *testing.T) {
	s := newDeepgramSession(8, zap.NewNop())
	cb := &deepgramCallback{s: s}

	require.NoError(t, cb.Close(nil))
	_, open := <-s.Events()
	assert.False(t, open)
	assert.NoError(t, s.Err())
}

func TestMessageAfterFinishDoesNotPanic(t *testing.T) {
	s := newDeepgramSession(8, zap.NewNop())
	cb := &deepgramCallback{s: s}

	s.finishWith(nil)

	// SDK 的消息回调可能与会话关闭并发到达
	assert.NotPanics(t, func() {
		require.NoError(t, cb.Message(decodeMessage(t, `{
			"is_final": true,
			"channel": {"alternatives": [{"transcript": "late arrival"}]}
		}`)))
	})

	// 事件通道已关闭，迟到的消息被丢弃
	ev, open := <-s.Events()
	assert.False(t, open)
	assert.Empty(t, ev.Text)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "k"}.withDefaults()
	assert.Equal(t, "nova-2", cfg.Model)
	assert.Equal(t, "en-US", cfg.Language)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, "linear16", cfg.Encoding)
	assert.Equal(t, 128, cfg.EventBuffer)
}
