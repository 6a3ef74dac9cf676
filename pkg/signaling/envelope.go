package signaling

import (
	"encoding/json"
	"fmt"
)

// 客户端入站消息类型
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeChat        = "chat"
	MessageTypeEndCall     = "call.end"
)

// 服务端出站消息类型（事件类型之外）
const (
	MessageTypeConnected = "connected"
	MessageTypeError     = "error"
	MessageTypeAck       = "ack"
)

// Envelope 所有信令消息的统一外壳
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload subscribe / unsubscribe 的负载
type SubscribePayload struct {
	CallID string `json:"callId"`
}

// EndCallPayload call.end 的负载
type EndCallPayload struct {
	CallID string `json:"callId"`
}

// ChatPayload chat 的负载
type ChatPayload struct {
	CallID string `json:"callId"`
	Text   string `json:"text"`
}

// parseEnvelope 解析并按类型校验一条入站消息。
// 校验失败返回错误，由会话回送 error 事件而不是断开连接。
func parseEnvelope(raw []byte) (*Envelope, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return nil, nil, fmt.Errorf("message type is required")
	}

	switch env.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		if p.CallID == "" {
			return nil, nil, fmt.Errorf("%s requires callId", env.Type)
		}
		return &env, p, nil
	case MessageTypeChat:
		var p ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, fmt.Errorf("invalid chat payload: %w", err)
		}
		if p.CallID == "" {
			return nil, nil, fmt.Errorf("chat requires callId")
		}
		if p.Text == "" {
			return nil, nil, fmt.Errorf("chat requires text")
		}
		return &env, p, nil
	case MessageTypeEndCall:
		var p EndCallPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, fmt.Errorf("invalid call.end payload: %w", err)
		}
		if p.CallID == "" {
			return nil, nil, fmt.Errorf("call.end requires callId")
		}
		return &env, p, nil
	default:
		return nil, nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// marshalEvent 组装一条出站消息
func marshalEvent(eventType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: body})
}
