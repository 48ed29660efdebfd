package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示 cachekit 中所有预定义的错误类别。
type ErrorCode string

// 标准错误代码常量。
const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目（或条目已过期）。
	ErrCacheMiss ErrorCode = "CACHE_MISS"
	// ErrCacheClosed 表示尝试访问已关闭的缓存。
	ErrCacheClosed ErrorCode = "CACHE_CLOSED"
	// ErrCapacityExceeded 表示淘汰完所有可淘汰条目后仍无法满足容量约束。
	// 容量是软限制：新条目仍会被写入，此错误只用于日志记录。
	ErrCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// ErrSerializeFailed 表示值无法被序列化用于大小/哈希估算。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"
	// ErrPersistenceIO 表示快照读写发生了I/O错误。
	ErrPersistenceIO ErrorCode = "PERSISTENCE_IO"
	// ErrSnapshotCorrupted 表示快照文件内容损坏。
	ErrSnapshotCorrupted ErrorCode = "SNAPSHOT_CORRUPTED"

	// ErrTimerMisuse 表示 EndTimer 没有与之匹配的 StartTimer。
	ErrTimerMisuse ErrorCode = "TIMER_MISUSE"

	// ErrRemoteUnavailable 表示远程缓存后端不可达。
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"

	// ErrConfigInvalid 表示配置无效。配置校验错误是唯一向调用方传播的错误。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrResourceClosed 表示尝试访问已关闭的资源。
	ErrResourceClosed ErrorCode = "RESOURCE_CLOSED"
	// ErrInternalError 表示发生了未知的内部错误。
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// CoreError 是 cachekit 的自定义错误类型。
// 它包含了错误代码、消息、可选的原始错误(cause)和附加上下文信息。
type CoreError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// Error 实现了 Go 内置的 error 接口。
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 允许访问被包装的原始错误(Cause)。
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is 判断一个错误是否与目标错误具有相同的错误代码。
func (e *CoreError) Is(target error) bool {
	var ce *CoreError
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *CoreError) WithContext(key string, value interface{}) *CoreError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewError 创建一个新的 CoreError。
func NewError(code ErrorCode, message string) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 将一个已有的 error 包装成一个新的 CoreError。
func WrapError(code ErrorCode, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// IsCode 判断 err 的错误代码是否为 code。
func IsCode(err error, code ErrorCode) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// 预定义的常用错误实例。
var (
	ErrCacheMissNotFound  = NewError(ErrCacheMiss, "cache entry not found")
	ErrCacheAlreadyClosed = NewError(ErrCacheClosed, "cache is closed")
)
