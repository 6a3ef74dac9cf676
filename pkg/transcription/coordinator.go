package transcription

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/stt"
)

// Coordinator 单通电话的流式转写协调器。
// 消费提供商会话的事件通道，落库并广播片段；
// 会话异常断开时只重连一次，再失败就进入降级并广播降级事件。
type Coordinator struct {
	callID string
	userID uint

	provider stt.Provider
	store    store.Store
	exec     *executor.Executor
	bus      *events.Bus
	logger   *zap.Logger
	opts     stt.StreamOptions

	mu       sync.Mutex
	session  stt.Session
	cancel   context.CancelFunc
	done     chan struct{}
	degraded bool
}

func newCoordinator(
	call *models.Call,
	provider stt.Provider,
	st store.Store,
	exec *executor.Executor,
	bus *events.Bus,
	opts stt.StreamOptions,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		callID:   call.ID,
		userID:   call.UserID,
		provider: provider,
		store:    st,
		exec:     exec,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// start 建立首条会话并启动消费循环
func (c *Coordinator) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session, err := c.open(runCtx)
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.session = session
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, session)
	return nil
}

// open 经执行器建立一条会话，单次尝试，重试循环由协调器自己控制
func (c *Coordinator) open(ctx context.Context) (stt.Session, error) {
	policy := executor.DefaultPolicy()
	policy.MaxAttempts = 1
	return executor.Do(ctx, c.exec, "stt", policy, func(ctx context.Context) (stt.Session, error) {
		return c.provider.OpenStream(ctx, c.opts)
	})
}

func (c *Coordinator) run(ctx context.Context, session stt.Session) {
	defer close(c.done)

	reconnected := false
	for {
		select {
		case <-ctx.Done():
			session.Close()
			return
		case ev, ok := <-session.Events():
			if ok {
				c.handleFragment(ctx, ev)
				continue
			}

			err := session.Err()
			if err == nil {
				// 正常关闭
				return
			}
			if reconnected {
				c.degrade(err)
				return
			}
			reconnected = true

			c.logger.Warn("转写会话断开，尝试重连一次",
				zap.String("call_id", c.callID),
				zap.Error(err))
			next, rerr := c.open(ctx)
			if rerr != nil {
				c.degrade(rerr)
				return
			}
			c.mu.Lock()
			c.session = next
			c.mu.Unlock()
			session = next
		}
	}
}

func (c *Coordinator) handleFragment(ctx context.Context, ev stt.FragmentEvent) {
	fragment := &models.TranscriptFragment{
		CallID:     c.callID,
		OffsetSec:  ev.OffsetSec,
		Channel:    ev.Channel,
		Text:       ev.Text,
		Confidence: ev.Confidence,
		Final:      ev.Final,
	}
	if err := c.store.AppendTranscriptFragment(ctx, fragment); err != nil {
		c.logger.Warn("转写片段落库失败",
			zap.String("call_id", c.callID),
			zap.Float64("offset", ev.OffsetSec),
			zap.Error(err))
	}

	c.bus.PublishType(events.TypeTranscriptFragment, map[string]interface{}{
		"call_id":    c.callID,
		"user_id":    c.userID,
		"offset_sec": ev.OffsetSec,
		"channel":    ev.Channel,
		"text":       ev.Text,
		"confidence": ev.Confidence,
		"final":      ev.Final,
	}, "transcription")
}

// degrade 进入降级：通话继续，转写停止
func (c *Coordinator) degrade(cause error) {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()

	c.logger.Error("转写降级，本通电话不再产生转写",
		zap.String("call_id", c.callID),
		zap.Error(cause))
	c.bus.PublishType(events.TypeTranscriptDegraded, map[string]interface{}{
		"call_id": c.callID,
		"user_id": c.userID,
		"reason":  cause.Error(),
	}, "transcription")
}

// SendAudio 把音频写入当前会话
func (c *Coordinator) SendAudio(data []byte) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	return session.SendAudio(data)
}

// Degraded 返回是否已进入降级
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Stop 关闭会话并等待消费循环退出
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	session := c.session
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
}
