// Package errors 定义引擎的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 通用错误
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrContextCanceled 上下文被取消
	ErrContextCanceled = errors.New("context canceled")
)

// 外部服务相关错误
var (
	// ErrRateLimited 请求被限速
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New("request timeout")
	// ErrInvalidAPIKey API 密钥无效
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrModelNotFound 模型未找到
	ErrModelNotFound = errors.New("model not found")
	// ErrProviderUnavailable 提供商不可用
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidResponse 响应无效
	ErrInvalidResponse = errors.New("invalid provider response")
)

// 检索相关错误
var (
	// ErrFragmentNotFound 知识片段未找到
	ErrFragmentNotFound = errors.New("fragment not found")
	// ErrEmbeddingFailed 嵌入失败
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrVectorStoreFailed 向量存储失败
	ErrVectorStoreFailed = errors.New("vector store operation failed")
	// ErrRetrievalDegraded 向量检索降级（超时或出错，已回退到关键词结果）
	ErrRetrievalDegraded = errors.New("retrieval degraded")
)

// 会话相关错误
var (
	// ErrSessionStoreFailed 会话存储失败
	ErrSessionStoreFailed = errors.New("session store operation failed")
)

// ConfigurationError 启动期配置错误
//
// 只在构建索引、注册表或组装器时产生，是唯一允许终止进程启动的错误。
// errors.Is(err, ErrInvalidConfig) 对其成立。
type ConfigurationError struct {
	// Component 出错的组件（如 "module"、"knowledge"、"prompt"）
	Component string
	// Reason 错误原因
	Reason string
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(component, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// Error 实现 error 接口
func (e *ConfigurationError) Error() string {
	if e.Component == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error [%s]: %s", e.Component, e.Reason)
}

// Unwrap 使 errors.Is(err, ErrInvalidConfig) 成立
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderUnavailable)
}

// IsConfigurationError 判断是否为启动期配置错误
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Is 转发标准库 errors.Is，便于调用方只导入本包
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 转发标准库 errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}
