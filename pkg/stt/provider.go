package stt

import "context"

// FragmentEvent 一条转写片段事件。
// interim 片段后续可能被同一偏移上的新结果覆盖，final 片段不再变化。
type FragmentEvent struct {
	OffsetSec  float64
	Channel    int
	Text       string
	Confidence float64
	Final      bool
}

// Session 一条活跃的流式转写会话。
// Events 返回的通道在会话结束后关闭，之后通过 Err 判断是正常结束还是失败。
type Session interface {
	Events() <-chan FragmentEvent
	SendAudio(data []byte) error
	Close() error
	Err() error
}

// StreamOptions 单次会话的转写参数，零值字段回落到提供商默认值
type StreamOptions struct {
	Model      string
	Language   string
	SampleRate int
	Channels   int
	Encoding   string
}

// Provider 流式转写提供商抽象
type Provider interface {
	// OpenStream 建立一条流式转写会话
	OpenStream(ctx context.Context, opts StreamOptions) (Session, error)

	// TranscribeRecording 对录音文件做离线转写，返回全文
	TranscribeRecording(ctx context.Context, recordingURL string) (string, error)
}
