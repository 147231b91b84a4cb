// Package api 面向库使用者的入口。
package api

import (
	"net/http"
	"time"

	"netintercept/internal/adapter/roundtrip"
	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/internal/registry"
	"netintercept/internal/rules"
	"netintercept/pkg/traffic"
)

type (
	// Interceptor 拦截器
	Interceptor = interceptor.Interceptor
	// InteractiveRequest 可被应答的请求
	InteractiveRequest = interceptor.InteractiveRequest
	// RequestListener 请求监听器
	RequestListener = interceptor.RequestListener
	// ResponseListener 响应监听器
	ResponseListener = interceptor.ResponseListener
	// RequestFailedError 监听器失败时调用方收到的错误
	RequestFailedError = interceptor.RequestFailedError

	Request  = traffic.Request
	Response = traffic.Response
	Header   = traffic.Header
	Logger   = logger.Logger
)

// 事件名
const (
	EventRequest  = interceptor.EventRequest
	EventResponse = interceptor.EventResponse
)

// NewResponse 创建 200 响应
func NewResponse() *Response { return traffic.NewResponse() }

// Options 拦截器选项
type Options struct {
	Logger logger.Logger
	// ProcessTimeout 等待请求监听器的上限，0 表示不限
	ProcessTimeout time.Duration
}

// NewHTTPInterceptor 创建拦截进程级 HTTP 传输的拦截器，调用 Apply 后生效
func NewHTTPInterceptor(opts Options) *Interceptor {
	return roundtrip.NewInterceptor(interceptor.Config{Logger: opts.Logger, ProcessTimeout: opts.ProcessTimeout})
}

// Apply 在进程级注册表上安装拦截器
func Apply(i *Interceptor) error { return i.Apply(registry.Default) }

// HTTPClient 返回经过进程级 HTTP 传输的客户端，安装拦截器前后均可使用
func HTTPClient() *http.Client { return registry.Default.Client() }

// Transport 返回进程级 HTTP 传输
func Transport() http.RoundTripper { return registry.Default.RoundTripper() }

// LoadRules 读取规则文件并把规则引擎注册为请求监听器
func LoadRules(i *Interceptor, path string) (*rules.Engine, error) {
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, err
	}
	e := rules.New(rs, nil)
	i.OnRequest(e.Listener())
	return e, nil
}
