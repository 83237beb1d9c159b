// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 session-bridge 精简版:
//   - L1 哨兵错误: ErrUserCancelled / ErrThreadNotFound / ErrTimeout 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrUserCancelled 用户主动取消 (abort)。
	// 恢复策略与非预期传输故障不同: 保留已知 thread 身份以便 resume。
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrThreadNotFound runtime 不认识给定的 thread id (resume 失败)。
	ErrThreadNotFound = errors.New("thread not found")

	// ErrTimeout RPC 调用超时。
	ErrTimeout = errors.New("timeout")

	// ErrNotConnected 传输层尚未建立连接。
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidInput 输入参数无效。
	ErrInvalidInput = errors.New("invalid input")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "RuntimeClient.StartTurn"
	Code    string // 错误码，如 "RPC_ERROR"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsUserCancelled 判断错误链中是否包含用户取消信号。
//
// context.Canceled 同样视为用户取消: orchestrator 的 abort 序列通过
// 取消当前 cancellation scope 使挂起的 RPC 以 context.Canceled 返回。
func IsUserCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled)
}

// Is 重导出 errors.Is。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 重导出 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
