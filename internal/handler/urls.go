package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/errhandler"
	"github.com/voxen-labs/voxen/pkg/lifecycle"
	"github.com/voxen-labs/voxen/pkg/metrics"
	"github.com/voxen-labs/voxen/pkg/response"
	"github.com/voxen-labs/voxen/pkg/signaling"
)

// Handlers HTTP 入口层，组装所有外部可达的路由
type Handlers struct {
	db      *gorm.DB
	store   store.Store
	machine *lifecycle.Machine
	hub     *signaling.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger

	// webhookSeen 已处理过的回调事件指纹，用于重复送达去重
	webhookSeen *lru.LRU[string, struct{}]
}

// NewHandlers 创建 HTTP 入口层
func NewHandlers(
	db *gorm.DB,
	st store.Store,
	machine *lifecycle.Machine,
	hub *signaling.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		db:          db,
		store:       st,
		machine:     machine,
		hub:         hub,
		metrics:     m,
		logger:      logger,
		webhookSeen: lru.NewLRU[string, struct{}](4096, nil, webhookDedupeWindow),
	}
}

// Register 注册所有路由
func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		engine.GET("/metrics", h.metrics.Handler())
	}

	api := engine.Group("/api")
	{
		api.POST("/calls", h.InitiateCall)
		api.GET("/calls/:id", h.GetCall)
		api.POST("/calls/:id/end", h.EndCall)
		api.GET("/calls/:id/transcript", h.GetTranscript)

		api.POST("/webhooks/telephony/status", h.TelephonyStatusWebhook)
		api.POST("/webhooks/telephony/recording", h.TelephonyRecordingWebhook)
	}

	engine.GET("/ws/signaling", h.HandleSignaling)
}

// failWithError 按错误分类映射响应
func (h *Handlers) failWithError(c *gin.Context, err error) {
	switch {
	case errhandler.IsValidation(err):
		response.FailWithStatus(c, http.StatusBadRequest, err.Error(), nil)
	case errhandler.IsNotFound(err):
		response.FailWithStatus(c, http.StatusNotFound, err.Error(), nil)
	case errhandler.IsAdmissionRejected(err):
		if h.metrics != nil {
			h.metrics.AdmissionsRejected.Inc()
		}
		response.FailWithStatus(c, http.StatusTooManyRequests, err.Error(), nil)
	case errhandler.IsTransient(err):
		response.FailWithStatus(c, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		response.FailWithStatus(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
