package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// 核心事件类型
const (
	TypeCallUpdate          = "call.update"
	TypeTranscriptFragment  = "transcript.fragment"
	TypeTranscriptDegraded  = "transcript.degraded"
	TypeCallSummaryComplete = "call.summary"
	TypeChatMessage         = "chat.message"
)

// Event 系统事件
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// EventHandler 事件处理器
type EventHandler func(event Event) error

// Bus 进程内事件总线。构造后注入需要它的组件，不使用全局单例。
type Bus struct {
	handlers map[string][]EventHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewBus 创建事件总线
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Subscribe 订阅事件；eventType 为 "*" 时接收所有事件
func (bus *Bus) Subscribe(eventType string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers[eventType] = append(bus.handlers[eventType], handler)
}

// Unsubscribe 取消订阅（移除该类型的所有处理器）
func (bus *Bus) Unsubscribe(eventType string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.handlers, eventType)
}

// Publish 发布事件，处理器异步执行
func (bus *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	handlers := bus.handlers[event.Type]
	wildcardHandlers := bus.handlers["*"]
	all := make([]EventHandler, 0, len(handlers)+len(wildcardHandlers))
	all = append(all, handlers...)
	all = append(all, wildcardHandlers...)
	bus.mu.RUnlock()

	if len(all) == 0 {
		return
	}

	for _, handler := range all {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				bus.logger.Error("event handler failed",
					zap.String("eventType", event.Type),
					zap.Error(err))
			}
		}(handler)
	}
}

// PublishType 便捷方法：按类型发布事件
func (bus *Bus) PublishType(eventType string, data map[string]interface{}, source string) {
	bus.Publish(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	})
}
