package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/pkg/lifecycle"
	"github.com/voxen-labs/voxen/pkg/response"
)

// InitiateCallRequest 发起外呼的请求体
type InitiateCallRequest struct {
	UserID     uint   `json:"userId" binding:"required"`
	AgentID    uint   `json:"agentId" binding:"required"`
	ToNumber   string `json:"toNumber" binding:"required"`
	FromNumber string `json:"fromNumber"`
}

// InitiateCall 发起一通外呼
func (h *Handlers) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "无效的请求参数: "+err.Error(), nil)
		return
	}

	from := req.FromNumber
	if from == "" {
		// 未显式指定主叫号码时取座席配置
		agent, err := models.GetAgentByID(h.db, req.AgentID)
		if err != nil {
			response.Fail(c, "查询座席失败: "+err.Error(), nil)
			return
		}
		if agent == nil {
			response.Fail(c, "座席不存在或已停用", nil)
			return
		}
		from = agent.FromNumber
	}

	call, err := h.machine.Initiate(c.Request.Context(), lifecycle.InitiateParams{
		UserID:     req.UserID,
		AgentID:    req.AgentID,
		FromNumber: from,
		ToNumber:   req.ToNumber,
	})
	if err != nil {
		h.failWithError(c, err)
		return
	}
	response.Ok(c, call)
}

// GetCall 查询一通通话
func (h *Handlers) GetCall(c *gin.Context) {
	call, err := h.store.FindCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, "查询通话失败: "+err.Error(), nil)
		return
	}
	if call == nil {
		response.FailWithStatus(c, 404, "通话不存在", nil)
		return
	}
	response.Ok(c, call)
}

// EndCall 主动挂断一通通话
func (h *Handlers) EndCall(c *gin.Context) {
	call, err := h.machine.EndCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failWithError(c, err)
		return
	}
	response.Ok(c, call)
}

// GetTranscript 查询一通通话的转写片段
func (h *Handlers) GetTranscript(c *gin.Context) {
	callID := c.Param("id")
	call, err := h.store.FindCall(c.Request.Context(), callID)
	if err != nil {
		response.Fail(c, "查询通话失败: "+err.Error(), nil)
		return
	}
	if call == nil {
		response.FailWithStatus(c, 404, "通话不存在", nil)
		return
	}

	fragments, err := models.GetTranscriptFragments(h.db, callID)
	if err != nil {
		response.Fail(c, "查询转写失败: "+err.Error(), nil)
		return
	}
	response.Ok(c, gin.H{
		"callId":    callID,
		"fragments": fragments,
	})
}
