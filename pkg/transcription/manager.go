package transcription

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/stt"
)

// Manager 维护每通电话至多一个转写协调器
type Manager struct {
	provider stt.Provider
	store    store.Store
	exec     *executor.Executor
	bus      *events.Bus
	logger   *zap.Logger
	opts     stt.StreamOptions

	mu     sync.Mutex
	active map[string]*Coordinator
}

// NewManager 创建转写管理器
func NewManager(
	provider stt.Provider,
	st store.Store,
	exec *executor.Executor,
	bus *events.Bus,
	opts stt.StreamOptions,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		provider: provider,
		store:    st,
		exec:     exec,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		active:   make(map[string]*Coordinator),
	}
}

// Start 为一通电话启动转写。已有活跃协调器时返回已存在的那个。
func (m *Manager) Start(ctx context.Context, call *models.Call) (*Coordinator, error) {
	if call == nil || call.ID == "" {
		return nil, errhandler.NewValidationError("transcription", "call is required")
	}

	m.mu.Lock()
	if existing, ok := m.active[call.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	c := newCoordinator(call, m.provider, m.store, m.exec, m.bus, m.opts, m.logger)
	if err := c.start(ctx); err != nil {
		// 转写开不起来不影响通话本身，但要在信令通道上可见
		m.bus.PublishType(events.TypeTranscriptDegraded, map[string]interface{}{
			"call_id": call.ID,
			"user_id": call.UserID,
			"reason":  err.Error(),
		}, "transcription")
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.active[call.ID]; ok {
		// 并发启动时保留先注册的那个
		m.mu.Unlock()
		c.Stop()
		return existing, nil
	}
	m.active[call.ID] = c
	m.mu.Unlock()

	m.logger.Info("流式转写已启动", zap.String("call_id", call.ID))
	return c, nil
}

// Get 返回一通电话的活跃协调器，没有则返回 nil
func (m *Manager) Get(callID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[callID]
}

// Stop 停止一通电话的转写
func (m *Manager) Stop(callID string) {
	m.mu.Lock()
	c, ok := m.active[callID]
	if ok {
		delete(m.active, callID)
	}
	m.mu.Unlock()
	if ok {
		c.Stop()
		m.logger.Info("流式转写已停止", zap.String("call_id", callID))
	}
}

// StopAll 停止所有转写，进程退出时调用
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Coordinator, 0, len(m.active))
	for id, c := range m.active {
		all = append(all, c)
		delete(m.active, id)
	}
	m.mu.Unlock()
	for _, c := range all {
		c.Stop()
	}
}

// BindLifecycle 订阅通话状态事件：接通时启动转写，终态时停止
func (m *Manager) BindLifecycle(bus *events.Bus, st store.Store) {
	bus.Subscribe(events.TypeCallUpdate, func(event events.Event) error {
		callID, _ := event.Data["call_id"].(string)
		if callID == "" {
			return nil
		}
		status, _ := event.Data["status"].(string)
		switch {
		case status == string(models.CallStatusInProgress):
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			call, err := st.FindCall(ctx, callID)
			if err != nil || call == nil {
				return err
			}
			if _, err := m.Start(ctx, call); err != nil {
				m.logger.Warn("启动流式转写失败",
					zap.String("call_id", callID),
					zap.Error(err))
			}
		case models.CallStatus(status).IsTerminal():
			m.Stop(callID)
		}
		return nil
	})
}
