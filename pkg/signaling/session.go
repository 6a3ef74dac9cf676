package signaling

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 64 * 1024

// Session 一条已认证的信令连接
type Session struct {
	ID     string
	UserID uint

	hub    *Hub
	conn   *websocket.Conn
	writer *connWriter
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]bool
}

func newSession(hub *Hub, conn *websocket.Conn, userID uint, logger *zap.Logger) *Session {
	id, _ := gonanoid.Nanoid()
	return &Session{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		writer: newConnWriter(conn, hub.cfg.WriteTimeout, logger),
		logger: logger,
		subs:   make(map[string]bool),
	}
}

// subscribedTo 判断会话是否关注某通电话。
// 未显式订阅任何通话时接收本用户的全部事件。
func (s *Session) subscribedTo(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return true
	}
	return s.subs[callID]
}

func (s *Session) subscribe(callID string) {
	s.mu.Lock()
	s.subs[callID] = true
	s.mu.Unlock()
}

func (s *Session) unsubscribe(callID string) {
	s.mu.Lock()
	delete(s.subs, callID)
	s.mu.Unlock()
}

// Send 向客户端发送一条事件
func (s *Session) Send(eventType string, payload interface{}) {
	msg, err := marshalEvent(eventType, payload)
	if err != nil {
		s.logger.Error("序列化信令消息失败",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return
	}
	s.writer.send(msg)
}

func (s *Session) sendError(message string) {
	s.Send(MessageTypeError, map[string]interface{}{"message": message})
}

// readPump 读循环：应用层消息按类型校验，
// 校验失败回送 error 事件；心跳超时或读错误才断开。
func (s *Session) readPump() {
	defer s.hub.unregister(s)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.PongTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("信令连接异常断开",
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
			return
		}
		s.handleMessage(raw)
	}
}

func (s *Session) handleMessage(raw []byte) {
	env, payload, err := parseEnvelope(raw)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	switch env.Type {
	case MessageTypeSubscribe:
		p := payload.(SubscribePayload)
		s.subscribe(p.CallID)
		s.Send(MessageTypeAck, map[string]interface{}{"type": env.Type, "callId": p.CallID})
	case MessageTypeUnsubscribe:
		p := payload.(SubscribePayload)
		s.unsubscribe(p.CallID)
		s.Send(MessageTypeAck, map[string]interface{}{"type": env.Type, "callId": p.CallID})
	case MessageTypeChat:
		p := payload.(ChatPayload)
		if s.hub.commands == nil {
			s.sendError("chat is not supported")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.hub.commands.Chat(ctx, p.CallID, s.UserID, p.Text); err != nil {
			s.sendError(err.Error())
			return
		}
		s.Send(MessageTypeAck, map[string]interface{}{"type": env.Type, "callId": p.CallID})
	case MessageTypeEndCall:
		p := payload.(EndCallPayload)
		if s.hub.commands == nil {
			s.sendError("call.end is not supported")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.hub.commands.EndCall(ctx, p.CallID, s.UserID); err != nil {
			s.sendError(err.Error())
			return
		}
		s.Send(MessageTypeAck, map[string]interface{}{"type": env.Type, "callId": p.CallID})
	}
}

// heartbeat 周期性发送 ping，失败即收连接
func (s *Session) heartbeat() {
	ticker := time.NewTicker(s.hub.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.writer.ctx.Done():
			return
		case <-ticker.C:
			if err := s.writer.ping(); err != nil {
				s.logger.Debug("心跳发送失败，关闭连接",
					zap.String("session_id", s.ID),
					zap.Error(err))
				s.hub.unregister(s)
				return
			}
		}
	}
}

func (s *Session) close() {
	s.writer.close()
	s.conn.Close()
}
