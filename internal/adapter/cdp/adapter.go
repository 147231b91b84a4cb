// Package cdp 通过 Chrome DevTools 协议的 Fetch 域拦截浏览器请求。
//
// 请求阶段的暂停事件走完整的解析流程：模拟响应以 Fetch.fulfillRequest 交付，
// 监听器失败以 Fetch.failRequest 报告，其余请求继续并在响应阶段再次暂停，
// 以便把真实响应作为 "response" 事件发出。
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/internal/registry"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// Name 适配器名称
const Name = "cdp.fetch"

// Config 适配器配置
type Config struct {
	// URLPattern 拦截的 URL 通配，默认 "*"
	URLPattern string
	// CommandTimeout 单条 CDP 命令的超时，默认 3 秒
	CommandTimeout time.Duration
}

// Adapter Fetch 域适配器
type Adapter struct {
	pattern string
	timeout time.Duration
}

// New 创建适配器
func New(cfg Config) *Adapter {
	a := &Adapter{pattern: cfg.URLPattern, timeout: cfg.CommandTimeout}
	if a.pattern == "" {
		a.pattern = "*"
	}
	if a.timeout <= 0 {
		a.timeout = 3 * time.Second
	}
	return a
}

// NewInterceptor 创建使用该适配器的拦截器
func NewInterceptor(cfg Config, icfg interceptor.Config) *interceptor.Interceptor {
	icfg.Adapter = New(cfg)
	return interceptor.New(icfg)
}

// Fetch 已被拦截的 Fetch 域，登记在注册表中代替原始值
type Fetch struct {
	cdp.Fetch
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckEnvironment(env *registry.Registry) bool {
	_, ok := env.Load(registry.CapabilityCDPFetch).(cdp.Fetch)
	return ok
}

func (a *Adapter) Setup(env *registry.Registry, c *interceptor.Controller) error {
	domain, ok := env.Load(registry.CapabilityCDPFetch).(cdp.Fetch)
	if !ok {
		return interceptor.ErrEnvironmentUnsupported
	}
	l := c.Logger()

	restore, err := env.Patch(registry.CapabilityCDPFetch, c.InterceptorID(), &Fetch{Fetch: domain})
	if err != nil {
		return fmt.Errorf("failed to patch %q: %w", registry.CapabilityCDPFetch, err)
	}
	c.Defer(restore)

	ctx, cancel := context.WithCancel(context.Background())
	c.Defer(cancel)

	p := a.pattern
	enableCtx, enableCancel := context.WithTimeout(ctx, a.timeout)
	defer enableCancel()
	err = domain.Enable(enableCtx, &fetch.EnableArgs{Patterns: []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}})
	if err != nil {
		return fmt.Errorf("enable fetch domain: %w", err)
	}
	c.Defer(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), a.timeout)
		defer dcancel()
		if err := domain.Disable(dctx); err != nil {
			l.Warn("禁用 Fetch 域失败", "error", err)
		}
	})

	stream, err := domain.RequestPaused(ctx)
	if err != nil {
		return fmt.Errorf("subscribe requestPaused: %w", err)
	}

	s := &session{
		adapter: a,
		domain:  domain,
		c:       c,
		ctx:     ctx,
		log:     l,
		pending: make(map[fetch.RequestID]*interceptor.Outcome),
	}
	s.wg.Add(1)
	go s.consume(stream)

	c.Defer(func() {
		cancel()
		_ = stream.Close()
		s.wg.Wait()
		s.clear()
		l.Info("已停止 Fetch 拦截")
	})
	l.Info("已启用 Fetch 拦截", "pattern", p)
	return nil
}

// session 一次安装对应的事件消费状态
type session struct {
	adapter *Adapter
	domain  cdp.Fetch
	c       *interceptor.Controller
	ctx     context.Context
	log     logger.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[fetch.RequestID]*interceptor.Outcome
}

// consume 持续接收暂停事件，每个事件独立处理
func (s *session) consume(stream fetch.RequestPausedClient) {
	defer s.wg.Done()
	for {
		ev, err := stream.Recv()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Err(err, "接收拦截事件失败")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ev)
		}()
	}
}

func (s *session) handle(ev *fetch.RequestPausedReply) {
	if ev.ResponseStatusCode == nil && ev.ResponseErrorReason == nil {
		s.handleRequest(ev)
		return
	}
	s.handleResponse(ev)
}

// handleRequest 请求阶段：解析并决定模拟、失败或放行
func (s *session) handleRequest(ev *fetch.RequestPausedReply) {
	req := ToNeutralRequest(ev)
	o := s.c.Resolve(s.ctx, req)

	ctx, cancel := s.commandContext()
	defer cancel()

	if o.Err != nil {
		s.log.Error("net::ERR_FAILED", "method", req.Method, "url", req.URL, "requestID", o.RequestID)
		s.call("failRequest", s.domain.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, network.ErrorReasonFailed)))
		return
	}

	if o.Mocked() && s.ctx.Err() == nil {
		s.c.EmitResponse(s.ctx, o.Response.Clone(), o)
		mock := o.Response.Clone()
		mock.URL = req.URL
		s.call("fulfillRequest", s.domain.FulfillRequest(ctx, ToFulfillArgs(ev.RequestID, mock)))
		return
	}

	s.mu.Lock()
	s.pending[ev.RequestID] = o
	s.mu.Unlock()
	s.call("continueRequest", s.domain.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID)))
}

// handleResponse 响应阶段：把真实响应作为事件发出后继续
func (s *session) handleResponse(ev *fetch.RequestPausedReply) {
	s.mu.Lock()
	o, ok := s.pending[ev.RequestID]
	delete(s.pending, ev.RequestID)
	s.mu.Unlock()

	ctx, cancel := s.commandContext()
	defer cancel()

	// 真实传输失败原样透传
	if ev.ResponseErrorReason != nil {
		s.call("failRequest", s.domain.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, *ev.ResponseErrorReason)))
		return
	}

	if ok {
		var body []byte
		if s.c.ListenerCount(interceptor.EventResponse) > 0 {
			reply, err := s.domain.GetResponseBody(ctx, fetch.NewGetResponseBodyArgs(ev.RequestID))
			if err != nil {
				s.log.Warn("获取响应体失败", "requestID", o.RequestID, "error", err)
			} else if body, err = DecodeBody(reply); err != nil {
				s.log.Warn("解码响应体失败", "requestID", o.RequestID, "error", err)
			}
		}
		s.c.EmitResponse(s.ctx, ToNeutralResponse(ev, body), o)
	}
	s.call("continueResponse", s.domain.ContinueResponse(ctx, fetch.NewContinueResponseArgs(ev.RequestID)))
}

func (s *session) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.ctx), s.adapter.timeout)
}

func (s *session) call(method string, err error) {
	if err != nil {
		s.log.Warn("CDP 命令失败", "method", method, "error", err)
	}
}

func (s *session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[fetch.RequestID]*interceptor.Outcome)
}
