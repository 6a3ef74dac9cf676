package errhandler

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrorType 错误类型
type ErrorType int

const (
	// ErrorTypeFatal 致命错误（凭证无效、号码非法等，不可重试）
	ErrorTypeFatal ErrorType = iota
	// ErrorTypeTransient 临时错误（超时、5xx、被上游限流，可重试）
	ErrorTypeTransient
	// ErrorTypeAdmissionRejected 准入被拒（本地限流或并发上限）
	ErrorTypeAdmissionRejected
	// ErrorTypeValidation 参数校验错误
	ErrorTypeValidation
	// ErrorTypeNotFound 目标不存在
	ErrorTypeNotFound
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeFatal:
		return "fatal"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeAdmissionRejected:
		return "admission_rejected"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error 统一错误结构
type Error struct {
	Type    ErrorType
	Service string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Service, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TypeOf 返回错误的分类；非 *Error 的错误按关键词判断
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if isFatalKeyword(err) {
		return ErrorTypeFatal
	}
	if isTransientKeyword(err) {
		return ErrorTypeTransient
	}
	return ErrorTypeFatal
}

// IsTransient 判断是否是可重试的临时错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeTransient
	}
	return isTransientKeyword(err)
}

// IsFatal 判断是否是致命错误
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeFatal
	}
	return isFatalKeyword(err)
}

// IsAdmissionRejected 判断是否是准入被拒错误
func IsAdmissionRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeAdmissionRejected
}

// IsValidation 判断是否是参数校验错误
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeValidation
}

// IsNotFound 判断是否是目标不存在错误
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeNotFound
}

// IsRateLimitError 判断是否是被上游限流（重试时需要更长的退避）
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	rateLimitKeywords := []string{
		"rate limit",
		"too many requests",
		"concurrent",
		"429",
	}
	for _, keyword := range rateLimitKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

func isFatalKeyword(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	fatalKeywords := []string{
		"unauthorized",
		"authentication failed",
		"invalid credentials",
		"api key invalid",
		"api key expired",
		"account suspended",
		"account disabled",
		"invalid number",
		"invalid destination",
		"quota exceeded",
		"insufficient quota",
	}
	for _, keyword := range fatalKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

func isTransientKeyword(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	transientKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporary",
		"unavailable",
		"bad gateway",
		"internal server error",
		"502",
		"503",
		"504",
	}
	for _, keyword := range transientKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

// Handler 错误处理器，负责分类和分级日志
type Handler struct {
	logger *zap.Logger
}

// NewHandler 创建错误处理器
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// Classify 分类错误
func (h *Handler) Classify(err error, service string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Type:    TypeOf(err),
		Service: service,
		Message: err.Error(),
		Err:     err,
	}
}

// HandleError 分类错误并按级别记录日志
func (h *Handler) HandleError(err error, service string) error {
	if err == nil {
		return nil
	}

	classified := h.Classify(err, service)

	switch classified.Type {
	case ErrorTypeFatal:
		h.logger.Error("fatal provider error",
			zap.String("service", service),
			zap.Error(err),
		)
	case ErrorTypeTransient:
		h.logger.Warn("transient provider error",
			zap.String("service", service),
			zap.Error(err),
		)
	default:
		h.logger.Debug("request error",
			zap.String("service", service),
			zap.String("type", classified.Type.String()),
			zap.Error(err),
		)
	}

	return classified
}

// NewError 按关键字分类包装一个底层错误
func NewError(service, message string, err error) *Error {
	return &Error{Type: TypeOf(err), Service: service, Message: message, Err: err}
}

// NewFatalError 创建致命错误
func NewFatalError(service, message string, err error) *Error {
	return &Error{Type: ErrorTypeFatal, Service: service, Message: message, Err: err}
}

// NewTransientError 创建临时错误
func NewTransientError(service, message string, err error) *Error {
	return &Error{Type: ErrorTypeTransient, Service: service, Message: message, Err: err}
}

// NewAdmissionRejectedError 创建准入被拒错误
func NewAdmissionRejectedError(service, message string) *Error {
	return &Error{Type: ErrorTypeAdmissionRejected, Service: service, Message: message}
}

// NewValidationError 创建参数校验错误
func NewValidationError(service, message string) *Error {
	return &Error{Type: ErrorTypeValidation, Service: service, Message: message}
}

// NewNotFoundError 创建目标不存在错误
func NewNotFoundError(service, message string) *Error {
	return &Error{Type: ErrorTypeNotFound, Service: service, Message: message}
}
