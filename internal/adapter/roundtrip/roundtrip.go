// Package roundtrip 拦截注册表中的 http.RoundTripper。
package roundtrip

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"netintercept/internal/interceptor"
	"netintercept/internal/registry"
	"netintercept/pkg/traffic"
)

// Name 适配器名称
const Name = "roundtrip"

// Adapter http.RoundTripper 适配器
type Adapter struct{}

// New 创建适配器
func New() *Adapter { return &Adapter{} }

// NewInterceptor 创建使用该适配器的拦截器
func NewInterceptor(cfg interceptor.Config) *interceptor.Interceptor {
	cfg.Adapter = New()
	return interceptor.New(cfg)
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckEnvironment(env *registry.Registry) bool {
	_, ok := env.Load(registry.CapabilityHTTPTransport).(http.RoundTripper)
	return ok
}

func (a *Adapter) Setup(env *registry.Registry, c *interceptor.Controller) error {
	l := c.Logger()
	pure, ok := env.Load(registry.CapabilityHTTPTransport).(http.RoundTripper)
	if !ok {
		return interceptor.ErrEnvironmentUnsupported
	}

	restore, err := env.Patch(registry.CapabilityHTTPTransport, c.InterceptorID(), &Transport{pure: pure, c: c})
	if err != nil {
		return fmt.Errorf("failed to patch %q: %w", registry.CapabilityHTTPTransport, err)
	}
	l.Info("已替换 http.RoundTripper")

	c.Defer(func() {
		restore()
		l.Info("已还原 http.RoundTripper")
	})
	return nil
}

// Transport 执行解析流程的替身传输
type Transport struct {
	pure http.RoundTripper
	c    *interceptor.Controller
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	l := t.c.Logger()
	ctx := req.Context()

	treq, err := toTrafficRequest(req)
	if err != nil {
		return nil, err
	}

	o := t.c.Resolve(ctx, treq)
	if o.Err != nil {
		l.Error("net::ERR_FAILED", "method", req.Method, "url", treq.URL, "requestID", o.RequestID)
		return nil, &interceptor.RequestFailedError{Method: req.Method, URL: treq.URL, Cause: o.Err}
	}

	if o.Mocked() && ctx.Err() == nil {
		t.c.EmitResponse(ctx, o.Response.Clone(), o)
		return toHTTPResponse(o.Response, req), nil
	}

	l.Debug("放行到真实传输", "requestID", o.RequestID)
	res, err := t.pure.RoundTrip(forward(req, treq.Body))
	if err != nil {
		return nil, err
	}

	copied := duplicate(res)
	if t.c.ListenerCount(interceptor.EventResponse) == 0 || !capturable(res) {
		t.c.EmitResponse(ctx, copied, o)
		return res, nil
	}
	res.Body = &captureBody{rc: res.Body, done: func(body []byte) {
		copied.Body = body
		t.c.EmitResponse(ctx, copied, o)
	}}
	return res, nil
}

// duplicate 复制真实响应的状态与头部，响应体由 captureBody 补齐
func duplicate(res *http.Response) *traffic.Response {
	out := &traffic.Response{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Headers:    traffic.FromHTTP(res.Header),
	}
	if res.Request != nil && res.Request.URL != nil {
		out.URL = res.Request.URL.String()
	}
	return out
}

// capturable 协议升级的响应体需保持可写，不做包装
func capturable(res *http.Response) bool {
	return res.Body != nil && res.Body != http.NoBody && res.StatusCode != http.StatusSwitchingProtocols
}

// captureBody 在调用方读取响应体的同时留存一份，读完、出错或关闭时交给 done 一次
type captureBody struct {
	rc   io.ReadCloser
	done func(body []byte)

	mu       sync.Mutex
	buf      bytes.Buffer
	finished bool
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.mu.Lock()
	if !b.finished {
		b.buf.Write(p[:n])
	}
	b.mu.Unlock()
	if err != nil {
		b.finish()
	}
	return n, err
}

func (b *captureBody) Close() error {
	err := b.rc.Close()
	b.finish()
	return err
}

func (b *captureBody) finish() {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.finished = true
	body := bytes.Clone(b.buf.Bytes())
	b.mu.Unlock()
	b.done(body)
}

// toTrafficRequest 读取并关闭请求体
func toTrafficRequest(req *http.Request) (*traffic.Request, error) {
	out := traffic.NewRequest()
	out.Method = req.Method
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	out.URL = req.URL.String()
	out.Headers = traffic.FromHTTP(req.Header)

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	out.Prepare()
	return out, nil
}

// forward 复制调用方的请求并装回已读取的请求体，原请求保持不变
func forward(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return out
}

// toHTTPResponse 以模拟响应构建 http.Response，来源地址固定为原请求
func toHTTPResponse(mock *traffic.Response, req *http.Request) *http.Response {
	body := append([]byte(nil), mock.Body...)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", mock.StatusCode, mock.StatusText()),
		StatusCode:    mock.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        mock.Headers.ToHTTP(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
