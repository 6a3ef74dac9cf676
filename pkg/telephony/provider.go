package telephony

import (
	"context"

	"github.com/voxen-labs/voxen/internal/models"
)

// PlaceCallRequest 外呼发起参数
type PlaceCallRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	CallbackURL string `json:"callback_url"`
}

// Provider 通话提供商抽象。实现方负责把提供商语义的失败
// 映射为 errhandler 的错误分类，调用方只基于分类决定是否重试。
type Provider interface {
	// PlaceCall 发起外呼，返回提供商侧的呼叫引用
	PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error)

	// TerminateCall 终止提供商侧的呼叫
	TerminateCall(ctx context.Context, providerRef string) error
}

// MapStatus 把提供商回调里的状态字符串映射为内部状态。
// 未知状态返回空串，由调用方当作非法事件忽略。
func MapStatus(providerStatus string) models.CallStatus {
	switch providerStatus {
	case "initiated", "queued":
		return models.CallStatusInitiated
	case "ringing":
		return models.CallStatusRinging
	case "answered", "in-progress", "in_progress":
		return models.CallStatusInProgress
	case "completed":
		return models.CallStatusCompleted
	case "failed":
		return models.CallStatusFailed
	case "no-answer", "no_answer":
		return models.CallStatusNoAnswer
	case "busy":
		return models.CallStatusBusy
	case "canceled", "cancelled":
		return models.CallStatusCanceled
	default:
		return ""
	}
}
