package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ServiceError 服务错误
type ServiceError struct {
	Code    int    // 错误码
	Message string // 错误信息
	Err     error  // 原始错误
}

// Error 实现 error 接口
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// 错误码定义，与HTTP状态码对齐，路由层直接映射
const (
	ErrCodeBadRequest   = 400
	ErrCodeForbidden    = 403
	ErrCodeNotFound     = 404
	ErrCodeConflict     = 409
	ErrCodeExpired      = 410
	ErrCodeInvalidState = 422
	ErrCodeServerError  = 500
)

// NewNotFoundError 创建未找到错误
func NewNotFoundError(resource string, id int64) error {
	return &ServiceError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %d not found", resource, id),
	}
}

// NewBadRequestError 创建请求错误
func NewBadRequestError(message string) error {
	return &ServiceError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewForbiddenError 创建越权错误
func NewForbiddenError(message string) error {
	return &ServiceError{
		Code:    ErrCodeForbidden,
		Message: message,
	}
}

// NewConflictError 创建冲突错误
func NewConflictError(message string) error {
	return &ServiceError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// NewExpiredError 创建已失效错误
func NewExpiredError(message string) error {
	return &ServiceError{
		Code:    ErrCodeExpired,
		Message: message,
	}
}

// NewInvalidStateError 创建非法状态错误
func NewInvalidStateError(message string) error {
	return &ServiceError{
		Code:    ErrCodeInvalidState,
		Message: message,
	}
}

// NewServerError 创建服务器错误
func NewServerError(message string, err error) error {
	return &ServiceError{
		Code:    ErrCodeServerError,
		Message: message,
		Err:     err,
	}
}

// codeOf 提取错误码，非ServiceError按500处理
func codeOf(err error) int {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCodeNotFound
	}
	return ErrCodeServerError
}

// IsNotFound 判断是否是未找到错误
func IsNotFound(err error) bool {
	return codeOf(err) == ErrCodeNotFound
}

// IsConflict 判断是否是冲突错误
func IsConflict(err error) bool {
	return codeOf(err) == ErrCodeConflict
}

// IsForbidden 判断是否是越权错误
func IsForbidden(err error) bool {
	return codeOf(err) == ErrCodeForbidden
}

// IsExpired 判断是否是已失效错误
func IsExpired(err error) bool {
	return codeOf(err) == ErrCodeExpired
}

// IsInvalidState 判断是否是非法状态错误
func IsInvalidState(err error) bool {
	return codeOf(err) == ErrCodeInvalidState
}

// HTTPStatus 返回错误对应的HTTP状态码
func HTTPStatus(err error) int {
	return codeOf(err)
}

// HandleDBError 处理数据库错误
func HandleDBError(err error, resource string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(resource, id)
	}
	return NewServerError(fmt.Sprintf("database error when operating %s", resource), err)
}
