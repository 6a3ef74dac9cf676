package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/lifecycle"
	"github.com/voxen-labs/voxen/pkg/response"
	"github.com/voxen-labs/voxen/pkg/telephony"
)

// webhookDedupeWindow 同一事件重复送达的去重窗口
const webhookDedupeWindow = 10 * time.Minute

// TelephonyStatusPayload 提供商状态回调
type TelephonyStatusPayload struct {
	CallID      string `json:"call_id" binding:"required"`
	Status      string `json:"status" binding:"required"`
	DurationSec int    `json:"duration_sec"`
	Reason      string `json:"reason"`
	EventID     string `json:"event_id"`
}

// TelephonyRecordingPayload 提供商录音就绪回调
type TelephonyRecordingPayload struct {
	CallID       string `json:"call_id" binding:"required"`
	RecordingURL string `json:"recording_url" binding:"required"`
	EventID      string `json:"event_id"`
}

// seenBefore 判断回调事件是否已处理过。
// 有 event_id 用 event_id，否则对负载内容取指纹。
func (h *Handlers) seenBefore(eventID string, payload interface{}) bool {
	key := eventID
	if key == "" {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", payload)))
		key = hex.EncodeToString(sum[:])
	}
	if _, ok := h.webhookSeen.Get(key); ok {
		return true
	}
	h.webhookSeen.Add(key, struct{}{})
	return false
}

// TelephonyStatusWebhook 提供商状态回调入口。
// 回调可能乱序、重复，处理结果对提供商始终是 200，
// 避免对方无意义地重投不可恢复的事件。
func (h *Handlers) TelephonyStatusWebhook(c *gin.Context) {
	var payload TelephonyStatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Fail(c, "无效的回调负载: "+err.Error(), nil)
		return
	}
	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(payload.Status).Inc()
	}

	if h.seenBefore(payload.EventID, payload) {
		h.logger.Debug("重复回调，跳过",
			zap.String("provider_ref", payload.CallID),
			zap.String("status", payload.Status))
		response.Ok(c, gin.H{"deduped": true})
		return
	}

	status := telephony.MapStatus(payload.Status)
	if status == "" {
		h.logger.Warn("未知的提供商状态",
			zap.String("provider_ref", payload.CallID),
			zap.String("status", payload.Status))
		response.Ok(c, gin.H{"ignored": true})
		return
	}

	call, err := h.machine.HandleProviderStatus(c.Request.Context(), payload.CallID, lifecycle.StatusUpdate{
		Status:      status,
		DurationSec: payload.DurationSec,
		Reason:      payload.Reason,
	})
	if err != nil {
		h.failWithError(c, err)
		return
	}
	response.Ok(c, gin.H{"callId": call.ID, "status": call.Status})
}

// TelephonyRecordingWebhook 录音就绪回调：补写录音地址
func (h *Handlers) TelephonyRecordingWebhook(c *gin.Context) {
	var payload TelephonyRecordingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Fail(c, "无效的回调负载: "+err.Error(), nil)
		return
	}

	if h.seenBefore(payload.EventID, payload) {
		response.Ok(c, gin.H{"deduped": true})
		return
	}

	call, err := h.store.FindCallByExternalID(c.Request.Context(), payload.CallID)
	if err != nil {
		response.Fail(c, "查询通话失败: "+err.Error(), nil)
		return
	}
	if call == nil {
		response.FailWithStatus(c, 404, "通话不存在", nil)
		return
	}

	if err := h.store.SetCallRecordingURL(c.Request.Context(), call.ID, payload.RecordingURL); err != nil {
		response.Fail(c, "写入录音地址失败: "+err.Error(), nil)
		return
	}
	call.RecordingURL = payload.RecordingURL
	response.Ok(c, gin.H{"callId": call.ID})
}
