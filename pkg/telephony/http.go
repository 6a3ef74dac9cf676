package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/voxen-labs/voxen/pkg/errhandler"
)

// Config HTTP提供商配置
type Config struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	Timeout     time.Duration
}

// HTTPProvider 基于 REST API 的通话提供商实现
type HTTPProvider struct {
	client *resty.Client
	cfg    Config
	logger *zap.Logger
}

// NewHTTPProvider 创建 HTTP 通话提供商
func NewHTTPProvider(cfg Config, logger *zap.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &HTTPProvider{client: client, cfg: cfg, logger: logger}
}

type placeCallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type providerError struct {
	Message string `json:"message"`
}

// PlaceCall 发起外呼
func (p *HTTPProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	if req.To == "" {
		return "", errhandler.NewValidationError("telephony", "to number is required")
	}
	if req.CallbackURL == "" {
		req.CallbackURL = p.cfg.CallbackURL
	}

	var out placeCallResponse
	var apiErr providerError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/calls")
	if err != nil {
		return "", errhandler.NewTransientError("telephony", "place call request failed", err)
	}
	if resp.IsError() {
		return "", p.classifyStatus(resp.StatusCode(), "place call", apiErr.Message)
	}
	if out.CallID == "" {
		return "", errhandler.NewFatalError("telephony", "provider returned no call id", nil)
	}

	p.logger.Info("外呼已下发",
		zap.String("to", req.To),
		zap.String("provider_ref", out.CallID))
	return out.CallID, nil
}

// TerminateCall 终止提供商侧呼叫。呼叫已不存在时视为成功。
func (p *HTTPProvider) TerminateCall(ctx context.Context, providerRef string) error {
	var apiErr providerError
	resp, err := p.client.R().
		SetContext(ctx).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1/calls/%s/terminate", providerRef))
	if err != nil {
		return errhandler.NewTransientError("telephony", "terminate call request failed", err)
	}
	if resp.StatusCode() == 404 {
		return nil
	}
	if resp.IsError() {
		return p.classifyStatus(resp.StatusCode(), "terminate call", apiErr.Message)
	}
	return nil
}

// classifyStatus 把 HTTP 状态码映射为错误分类:
// 429 与 5xx 可重试，其余 4xx 视为不可恢复。
func (p *HTTPProvider) classifyStatus(code int, op, detail string) error {
	msg := fmt.Sprintf("%s: provider returned %d", op, code)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	switch {
	case code == 429:
		return errhandler.NewTransientError("telephony", msg+" (rate limit)", nil)
	case code >= 500:
		return errhandler.NewTransientError("telephony", msg, nil)
	default:
		return errhandler.NewFatalError("telephony", msg, nil)
	}
}
