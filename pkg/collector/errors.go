package collector

import (
	"context"
	"errors"
	"io/fs"
)

// ErrorKind 采集错误分类
type ErrorKind string

const (
	KindGeneric    ErrorKind = "error"
	KindPermission ErrorKind = "permission"
	KindTimeout    ErrorKind = "timeout"
	KindPanic      ErrorKind = "panic"
	KindDisabled   ErrorKind = "disabled"
)

// Error 带分类与是否可重试标记的采集错误
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if e.Kind == KindGeneric {
		return e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// PermissionError 权限类错误，不会被重试
func PermissionError(err error) error {
	return &Error{Kind: KindPermission, Retryable: false, Err: err}
}

// Permanent 标记为不可重试的普通错误
func Permanent(err error) error {
	return &Error{Kind: KindGeneric, Retryable: false, Err: err}
}

// classify 把任意错误归类为 *Error
// 未显式分类时：权限错误不可重试、超时可重试，其余按通用可重试处理
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindPermission, Retryable: false, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	default:
		return &Error{Kind: KindGeneric, Retryable: true, Err: err}
	}
}

// IsRetryable 判断错误是否允许重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return classify(err).Retryable
}
