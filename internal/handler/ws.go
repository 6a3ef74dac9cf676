package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/pkg/response"
)

// HandleSignaling 信令连接入口。凭证校验在升级前完成，
// 校验失败直接按普通 HTTP 响应返回。
func (h *Handlers) HandleSignaling(c *gin.Context) {
	apiKey := c.Query("apiKey")
	apiSecret := c.Query("apiSecret")
	if apiKey == "" || apiSecret == "" {
		response.Fail(c, "缺少apiKey或apiSecret参数", nil)
		return
	}

	cred, err := models.GetUserCredentialByApiSecretAndApiKey(h.db, apiKey, apiSecret)
	if err != nil {
		response.Fail(c, "Database error: "+err.Error(), nil)
		return
	}
	if cred == nil {
		response.Fail(c, "Invalid credentials", nil)
		return
	}

	if _, err := h.hub.Serve(c.Writer, c.Request, cred.UserID); err != nil {
		h.logger.Error("升级信令连接失败", zap.Error(err))
	}
}
