package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrPlugin 所有插件错误的公共祖先，errors.Is(err, ErrPlugin) 对所有分类成立
	ErrPlugin = errors.New("plugin error")

	ErrLoad           = errors.New("load failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation failed")
	ErrInitialization = errors.New("initialization failed")
	ErrLifecycle      = errors.New("lifecycle hook failed")
)

// Error 插件错误：分类、插件名以及底层原因
type Error struct {
	Kind   error
	Plugin string
	Err    error
}

func newError(kind error, name string, cause error) *Error {
	return &Error{Kind: kind, Plugin: name, Err: cause}
}

func errorf(kind error, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Plugin: name, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := "plugin"
	if e.Plugin != "" {
		msg += fmt.Sprintf(" %q", e.Plugin)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 匹配分类哨兵错误以及 ErrPlugin
func (e *Error) Is(target error) bool {
	return target == ErrPlugin || target == e.Kind
}
