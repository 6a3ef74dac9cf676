package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	interfacesv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	websocketv1 "github.com/deepgram/deepgram-go-sdk/pkg/client/listen/v1/websocket"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/errhandler"
)

// Config Deepgram 转写配置
type Config struct {
	APIKey            string
	Model             string
	Language          string
	SampleRate        int
	Channels          int
	Encoding          string
	KeepAliveInterval time.Duration
	EventBuffer       int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 3 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 128
	}
	return c
}

// DeepgramProvider 基于 Deepgram 实时接口的转写提供商
type DeepgramProvider struct {
	cfg    Config
	rest   *resty.Client
	logger *zap.Logger
}

// NewDeepgramProvider 创建 Deepgram 转写提供商
func NewDeepgramProvider(cfg Config, logger *zap.Logger) *DeepgramProvider {
	cfg = cfg.withDefaults()
	rest := resty.New().
		SetTimeout(batchTimeout).
		SetHeader("Authorization", "Token "+cfg.APIKey)
	return &DeepgramProvider{cfg: cfg, rest: rest, logger: logger}
}

// OpenStream 建立实时转写会话
func (p *DeepgramProvider) OpenStream(ctx context.Context, opts StreamOptions) (Session, error) {
	if p.cfg.APIKey == "" {
		return nil, errhandler.NewFatalError("stt", "deepgram api key is not configured", nil)
	}
	client.InitWithDefault()

	cfg := p.cfg
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.Language != "" {
		cfg.Language = opts.Language
	}
	if opts.SampleRate > 0 {
		cfg.SampleRate = opts.SampleRate
	}
	if opts.Channels > 0 {
		cfg.Channels = opts.Channels
	}
	if opts.Encoding != "" {
		cfg.Encoding = opts.Encoding
	}

	transcriptOptions := interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		Encoding:       cfg.Encoding,
		SmartFormat:    true,
		Punctuate:      true,
		VadEvents:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
	}
	clientOptions := interfaces.ClientOptions{}

	s := newDeepgramSession(cfg.EventBuffer, p.logger)

	var err error
	s.client, err = client.NewWebSocketUsingCallback(ctx, cfg.APIKey, &clientOptions, &transcriptOptions, &deepgramCallback{s: s})
	if err != nil {
		return nil, errhandler.NewTransientError("stt", "error on creating deepgram client", err)
	}
	if !s.client.Connect() {
		return nil, errhandler.NewTransientError("stt", "error on connecting to deepgram", nil)
	}
	go s.keepAlive(cfg.KeepAliveInterval)
	return s, nil
}

// deepgramSession 把 Deepgram 的回调事件转成有界通道上的 FragmentEvent
type deepgramSession struct {
	client *websocketv1.Client
	logger *zap.Logger

	events  chan FragmentEvent
	closeCh chan struct{}
	finish  sync.Once

	mu     sync.RWMutex
	err    error
	closed bool
}

func newDeepgramSession(buffer int, logger *zap.Logger) *deepgramSession {
	return &deepgramSession{
		logger:  logger,
		events:  make(chan FragmentEvent, buffer),
		closeCh: make(chan struct{}),
	}
}

func (s *deepgramSession) Events() <-chan FragmentEvent {
	return s.events
}

func (s *deepgramSession) SendAudio(data []byte) error {
	select {
	case <-s.closeCh:
		return errhandler.NewTransientError("stt", "session already closed", s.Err())
	default:
	}
	if _, err := s.client.Write(data); err != nil {
		return errhandler.NewTransientError("stt", "error on writing audio to deepgram", err)
	}
	return nil
}

func (s *deepgramSession) Close() error {
	s.finishWith(nil)
	return nil
}

func (s *deepgramSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// finishWith 结束会话并关闭事件通道，只会生效一次。
// 先关 closeCh 让阻塞在 emit 里的回调退出，再在写锁内关 events：
// emit 持读锁发送，拿到写锁时已不存在向 events 的在途发送。
func (s *deepgramSession) finishWith(err error) {
	s.finish.Do(func() {
		close(s.closeCh)
		if s.client != nil {
			s.client.Stop()
		}
		s.mu.Lock()
		s.err = err
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *deepgramSession) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			if err := s.client.KeepAlive(); err != nil {
				s.logger.Error("deepgram stt: keep alive error", zap.Error(err))
				s.finishWith(errhandler.NewTransientError("stt", "keep alive failed", err))
				return
			}
		}
	}
}

func (s *deepgramSession) emit(ev FragmentEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.closeCh:
	}
}

// deepgramCallback Deepgram SDK 的回调接收者。
// 单独成一个类型是因为 SDK 要求的 Close(*CloseResponse)
// 与会话自身的 Close() 签名冲突。
type deepgramCallback struct {
	s *deepgramSession
}

func (c *deepgramCallback) Open(or *interfacesv1.OpenResponse) error {
	c.s.logger.Info("deepgram stt: stream opened")
	return nil
}

func (c *deepgramCallback) Message(mr *interfacesv1.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if len(text) == 0 {
		return nil
	}

	channel := 0
	if len(mr.ChannelIndex) > 0 {
		channel = mr.ChannelIndex[0]
	}
	c.s.emit(FragmentEvent{
		OffsetSec:  mr.Start,
		Channel:    channel,
		Text:       text,
		Confidence: alt.Confidence,
		Final:      mr.IsFinal,
	})
	return nil
}

func (c *deepgramCallback) Metadata(md *interfacesv1.MetadataResponse) error {
	c.s.logger.Debug("deepgram stt: metadata received")
	return nil
}

func (c *deepgramCallback) SpeechStarted(ssr *interfacesv1.SpeechStartedResponse) error {
	c.s.logger.Debug("deepgram stt: speech started")
	return nil
}

func (c *deepgramCallback) UtteranceEnd(ur *interfacesv1.UtteranceEndResponse) error {
	c.s.logger.Debug("deepgram stt: utterance ended")
	return nil
}

func (c *deepgramCallback) Close(cr *interfacesv1.CloseResponse) error {
	c.s.logger.Info("deepgram stt: stream closed")
	c.s.finishWith(nil)
	return nil
}

func (c *deepgramCallback) Error(er *interfacesv1.ErrorResponse) error {
	errMsg := fmt.Sprintf(
		"deepgram stt: error.errcode: %s, error.errmsg: %s, error.description: %s",
		er.ErrCode,
		er.ErrMsg,
		er.Description,
	)
	c.s.logger.Error(errMsg)
	c.s.finishWith(errhandler.NewTransientError("stt", errMsg, nil))
	return nil
}

func (c *deepgramCallback) UnhandledEvent(byData []byte) error {
	c.s.logger.Warn("deepgram stt: unhandled event", zap.ByteString("data", byData))
	return nil
}
