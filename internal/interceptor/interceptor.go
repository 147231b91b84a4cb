// Package interceptor 实现拦截器生命周期与请求解析流程。
//
// 拦截器通过适配器（Adapter）在能力注册表中替换某个传输原语。每个被捕获的请求
// 都会以 "request" 事件暴露给监听器，监听器可通过 InteractiveRequest.RespondWith
// 提供模拟响应；解析流程等待该请求相关的监听器全部结束后，决定交付模拟响应
// 还是放行到真实传输，并以 "response" 事件报告结果。
package interceptor

import (
	"context"
	"sync"
	"time"

	"netintercept/internal/emitter"
	"netintercept/internal/logger"
	"netintercept/internal/registry"
	"netintercept/pkg/traffic"

	"github.com/google/uuid"
)

// 事件名称
const (
	EventRequest  = "request"
	EventResponse = "response"
)

// State 拦截器状态
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

// RequestListener 请求事件监听器
type RequestListener func(ctx context.Context, req *InteractiveRequest, requestID string) error

// ResponseListener 响应事件监听器，res 为响应副本
type ResponseListener func(ctx context.Context, res *traffic.Response, req *InteractiveRequest, requestID string) error

// Adapter 传输适配器：检查环境并安装替身
type Adapter interface {
	// Name 适配器名称
	Name() string
	// CheckEnvironment 环境是否提供所需的传输能力
	CheckEnvironment(env *registry.Registry) bool
	// Setup 捕获并替换传输原语，通过 Controller.Defer 登记还原动作
	Setup(env *registry.Registry, c *Controller) error
}

// Config 拦截器配置
type Config struct {
	Adapter Adapter
	Logger  logger.Logger
	// ProcessTimeout 单个请求等待监听器的最长时间，0 表示不限制
	ProcessTimeout time.Duration
}

// Interceptor 拦截器实例
type Interceptor struct {
	id      string
	adapter Adapter
	emitter *emitter.Emitter
	log     logger.Logger
	timeout time.Duration

	mu            sync.Mutex
	state         State
	subscriptions []func()
}

// New 创建拦截器
func New(cfg Config) *Interceptor {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	id := uuid.NewString()
	if cfg.Adapter != nil {
		l = l.With("interceptor", cfg.Adapter.Name(), "interceptorID", id)
	}
	i := &Interceptor{
		id:      id,
		adapter: cfg.Adapter,
		log:     l,
		timeout: cfg.ProcessTimeout,
	}
	i.emitter = emitter.New(
		emitter.WithRetain(EventRequest),
		emitter.WithErrorHandler(func(event string, _ []any, err error) {
			i.log.Err(err, "监听器执行失败", "event", event)
		}),
	)
	return i
}

// ID 拦截器唯一标识
func (i *Interceptor) ID() string { return i.id }

// Name 适配器名称
func (i *Interceptor) Name() string {
	if i.adapter == nil {
		return ""
	}
	return i.adapter.Name()
}

// State 当前状态
func (i *Interceptor) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Apply 在环境中安装拦截
func (i *Interceptor) Apply(env *registry.Registry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateActive {
		return ErrAlreadyApplied
	}
	if i.adapter == nil || env == nil || !i.adapter.CheckEnvironment(env) {
		i.log.Warn("环境不支持该拦截器")
		return ErrEnvironmentUnsupported
	}

	stopped, stop := context.WithCancel(context.Background())
	c := &Controller{interceptor: i, stopped: stopped}
	if err := i.adapter.Setup(env, c); err != nil {
		// 回滚安装过程中已登记的还原动作
		stop()
		i.unwind(c.pending)
		i.log.Err(err, "安装拦截器失败")
		return err
	}
	// stop 最后登记，还原时最先执行
	i.subscriptions = append(i.subscriptions, c.pending...)
	i.subscriptions = append(i.subscriptions, stop)
	i.state = StateActive
	i.log.Info("拦截器已启用")
	return nil
}

// Restore 撤销拦截，可重复调用
func (i *Interceptor) Restore() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateInactive && len(i.subscriptions) == 0 {
		return
	}
	i.unwind(i.subscriptions)
	i.subscriptions = nil
	i.state = StateInactive
	i.log.Info("拦截器已还原")
}

// unwind 按登记的逆序执行还原动作
func (i *Interceptor) unwind(fns []func()) {
	for n := len(fns) - 1; n >= 0; n-- {
		fns[n]()
	}
}

// OnRequest 订阅请求事件
func (i *Interceptor) OnRequest(fn RequestListener) emitter.ListenerID {
	return i.emitter.On(EventRequest, func(ctx context.Context, args ...any) error {
		return fn(ctx, args[0].(*InteractiveRequest), args[1].(string))
	})
}

// OnResponse 订阅响应事件
func (i *Interceptor) OnResponse(fn ResponseListener) emitter.ListenerID {
	return i.emitter.On(EventResponse, func(ctx context.Context, args ...any) error {
		return fn(ctx, args[0].(*traffic.Response), args[1].(*InteractiveRequest), args[2].(string))
	})
}

// Off 取消订阅
func (i *Interceptor) Off(id emitter.ListenerID) {
	if !i.emitter.Off(EventRequest, id) {
		i.emitter.Off(EventResponse, id)
	}
}

// ListenerCount 返回事件的监听器数量
func (i *Interceptor) ListenerCount(event string) int {
	return i.emitter.ListenerCount(event)
}

// RemoveAllListeners 移除全部监听器
func (i *Interceptor) RemoveAllListeners() {
	i.emitter.RemoveAllListeners("")
}
