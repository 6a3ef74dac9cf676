package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/events"
)

// Config 信令通道配置
type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// CommandHandler 信令通道上可执行的命令
type CommandHandler interface {
	// EndCall 挂断一通电话，userID 为发起命令的用户
	EndCall(ctx context.Context, callID string, userID uint) error

	// Chat 向一通电话投递一条文字消息，userID 为发送者
	Chat(ctx context.Context, callID string, userID uint, text string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub 信令连接集线器。连接在升级前必须完成认证，
// 升级后按用户路由事件，按订阅过滤到具体通话。
type Hub struct {
	cfg    Config
	logger *zap.Logger

	commands CommandHandler

	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[uint]map[string]*Session
}

// NewHub 创建信令集线器
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	h := &Hub{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*Session),
		byUser:   make(map[uint]map[string]*Session),
	}
	return h
}

// SetCommandHandler 挂载命令处理器
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.commands = handler
}

// Serve 升级一条已认证的连接并接管其生命周期。
// 调用方必须在调用前完成凭证校验。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uint) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	s := newSession(h, conn, userID, h.logger)
	h.mu.Lock()
	h.sessions[s.ID] = s
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Session)
	}
	h.byUser[userID][s.ID] = s
	h.mu.Unlock()

	s.Send(MessageTypeConnected, map[string]interface{}{"sessionId": s.ID})
	go s.heartbeat()
	go s.readPump()

	h.logger.Info("信令连接已建立",
		zap.String("session_id", s.ID),
		zap.Uint("user_id", userID))
	return s, nil
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, present := h.sessions[s.ID]
	if present {
		delete(h.sessions, s.ID)
		if userSessions := h.byUser[s.UserID]; userSessions != nil {
			delete(userSessions, s.ID)
			if len(userSessions) == 0 {
				delete(h.byUser, s.UserID)
			}
		}
	}
	h.mu.Unlock()

	if present {
		s.close()
		h.logger.Info("信令连接已关闭", zap.String("session_id", s.ID))
	}
}

// SessionCount 当前连接数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendToUser 向一个用户的所有会话发送事件，按通话订阅过滤
func (h *Hub) SendToUser(userID uint, callID, eventType string, payload interface{}) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if callID != "" && !s.subscribedTo(callID) {
			continue
		}
		s.Send(eventType, payload)
	}
}

// Broadcast 向所有会话发送事件
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Send(eventType, payload)
	}
}

// BindBus 订阅内部事件并转发到对应用户的信令连接
func (h *Hub) BindBus(bus *events.Bus) {
	forward := func(event events.Event) error {
		userID, ok := asUint(event.Data["user_id"])
		if !ok {
			return nil
		}
		callID, _ := event.Data["call_id"].(string)
		h.SendToUser(userID, callID, event.Type, event.Data)
		return nil
	}
	bus.Subscribe(events.TypeCallUpdate, forward)
	bus.Subscribe(events.TypeTranscriptFragment, forward)
	bus.Subscribe(events.TypeTranscriptDegraded, forward)
	bus.Subscribe(events.TypeCallSummaryComplete, forward)
	bus.Subscribe(events.TypeChatMessage, forward)
}

// Close 关闭所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.sessions = make(map[string]*Session)
	h.byUser = make(map[uint]map[string]*Session)
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

func asUint(v interface{}) (uint, bool) {
	switch n := v.(type) {
	case uint:
		return n, true
	case int:
		return uint(n), true
	case int64:
		return uint(n), true
	case float64:
		return uint(n), true
	}
	return 0, false
}
