// Package provider 摘要模型调用与上下文超长重试
package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// 错误码常量
const (
	ErrCodeNoProvider      = "NO_PROVIDER"      // 未找到可用的上游
	ErrCodeEmptyResponse   = "EMPTY_RESPONSE"   // 上游返回空内容
	ErrCodeContextLength   = "CONTEXT_LENGTH"   // 上下文超长
	ErrCodeUnsupportedType = "UNSUPPORTED_TYPE" // 不支持的上游类型
	ErrCodeUpstream        = "UPSTREAM_ERROR"   // 上游返回错误
)

// APIError 统一的上游错误
type APIError struct {
	Code       string
	Message    string
	Detail     string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// 预定义错误实例
var (
	ErrNoProvider = &APIError{
		Code:    ErrCodeNoProvider,
		Message: "未找到可用的摘要模型上游",
	}
	ErrEmptyResponse = &APIError{
		Code:    ErrCodeEmptyResponse,
		Message: "摘要模型返回空内容",
	}
)

// NewAPIError 创建新的错误
func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// GetAPIError 获取 APIError（如果是的话）
func GetAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsErrorCode 检查错误是否为指定错误码
func IsErrorCode(err error, code string) bool {
	if apiErr := GetAPIError(err); apiErr != nil {
		return apiErr.Code == code
	}
	return false
}

// contextLengthPatterns 各家上游表示上下文超长的错误文本
var contextLengthPatterns = []string{
	"context_length_exceeded",
	"prompt is too long",
	"maximum context length",
	"content_length_exceeds_threshold",
	"input is too long",
	"context length",
	"context window",
	"too many tokens",
}

// IsContextLengthError 判断错误是否由上下文超长引起
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	if IsErrorCode(err, ErrCodeContextLength) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range contextLengthPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classifyError 将 SDK 错误转换为 APIError
func classifyError(providerID string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	hint := ""
	var oaErr *openai.Error
	var anErr *anthropic.Error
	switch {
	case errors.As(err, &oaErr):
		status = oaErr.StatusCode
		hint = oaErr.Code + " " + oaErr.Message
	case errors.As(err, &anErr):
		status = anErr.StatusCode
	}

	code := ErrCodeUpstream
	if IsContextLengthError(err) || IsContextLengthError(errors.New(hint)) {
		code = ErrCodeContextLength
	}
	return &APIError{
		Code:       code,
		Message:    fmt.Sprintf("上游 %s 请求失败", providerID),
		Detail:     err.Error(),
		StatusCode: status,
	}
}
