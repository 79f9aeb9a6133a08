package registry

import (
	"errors"
)

// 定义错误代码
const (
	// ErrDuplicateInstance 实例ID已被占用
	ErrDuplicateInstance = iota + 1
	// ErrNotFound 没有可用的服务端点
	ErrNotFound
	// ErrDuplicateCheck 检查ID已被占用
	ErrDuplicateCheck
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
)

// Error 定义注册中心操作可能返回的错误类型
type Error struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *Error) Error() string {
	return e.Message
}

// NewDuplicateInstanceError 创建实例ID冲突错误
func NewDuplicateInstanceError(message string) *Error {
	return &Error{
		Code:    ErrDuplicateInstance,
		Message: message,
	}
}

// NewNotFoundError 创建无可用端点错误
func NewNotFoundError(message string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewDuplicateCheckError 创建检查ID冲突错误
func NewDuplicateCheckError(message string) *Error {
	return &Error{
		Code:    ErrDuplicateCheck,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *Error {
	return &Error{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// IsNotFound 判断错误是否为无可用端点
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrNotFound
	}
	return false
}

// IsDuplicateInstance 判断错误是否为实例ID冲突
func IsDuplicateInstance(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrDuplicateInstance
	}
	return false
}

// IsDuplicateCheck 判断错误是否为检查ID冲突
func IsDuplicateCheck(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrDuplicateCheck
	}
	return false
}
