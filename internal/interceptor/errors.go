package interceptor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyApplied 拦截器已处于激活状态
	ErrAlreadyApplied = errors.New("interceptor already applied")
	// ErrEnvironmentUnsupported 环境不提供适配器需要的传输能力
	ErrEnvironmentUnsupported = errors.New("environment does not expose the transport")
	// ErrAlreadyResponded 模拟响应已被提供
	ErrAlreadyResponded = errors.New("request already responded")
	// ErrRequestSealed 请求已完成解析，不再接受模拟响应
	ErrRequestSealed = errors.New("request already resolved")
	// ErrNilResponse 模拟响应为空
	ErrNilResponse = errors.New("mocked response is nil")
)

// RequestFailedError 监听器阶段失败时交付给调用方的传输层错误
type RequestFailedError struct {
	Method string
	URL    string
	Cause  error
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.URL, e.Cause)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Cause
}
