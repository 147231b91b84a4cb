package interceptor

import (
	"context"
	"fmt"
	"time"

	"netintercept/internal/logger"
	"netintercept/pkg/traffic"

	"github.com/google/uuid"
)

// Controller 适配器在安装期间获得的句柄，提供解析流程与还原登记
type Controller struct {
	interceptor *Interceptor
	pending     []func()
	// stopped 在拦截器还原时取消，结束所有仍在等待的解析
	stopped context.Context
}

// Defer 登记还原动作，Restore 时按逆序执行
func (c *Controller) Defer(fn func()) {
	c.pending = append(c.pending, fn)
}

// Logger 拦截器日志
func (c *Controller) Logger() logger.Logger {
	return c.interceptor.log
}

// InterceptorID 拦截器标识，用作注册表槽位的归属标记
func (c *Controller) InterceptorID() string {
	return c.interceptor.id
}

// ListenerCount 返回事件的监听器数量
func (c *Controller) ListenerCount(event string) int {
	return c.interceptor.emitter.ListenerCount(event)
}

// Outcome 一次解析的结果：模拟响应（可为空）或监听器阶段的错误
type Outcome struct {
	RequestID string
	Request   *InteractiveRequest
	Response  *traffic.Response
	Err       error
}

// Mocked 是否得到模拟响应
func (o *Outcome) Mocked() bool {
	return o.Err == nil && o.Response != nil
}

// Resolve 发射请求事件并等待该请求的监听器全部结束，返回解析结果。
// 调用方上下文的取消不会中断等待，等待只受 ProcessTimeout 与拦截器还原约束。
func (c *Controller) Resolve(ctx context.Context, req *traffic.Request) *Outcome {
	i := c.interceptor
	requestID := uuid.NewString()
	ir := NewInteractiveRequest(req)
	out := &Outcome{RequestID: requestID, Request: ir}

	l := i.log.With("requestID", requestID)
	l.Info("拦截请求", "method", req.Method, "url", req.URL)

	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWait()
	if c.stopped != nil {
		stop := context.AfterFunc(c.stopped, cancelWait)
		defer stop()
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, i.timeout)
		defer cancel()
	}

	l.Debug("发射 request 事件", "listeners", i.emitter.ListenerCount(EventRequest))
	i.emitter.Emit(waitCtx, EventRequest, ir, requestID)

	start := time.Now()
	res, err := c.await(waitCtx, ir, requestID)
	if err != nil {
		out.Err = err
		l.Err(err, "监听器处理失败", "duration", time.Since(start))
		return out
	}
	out.Response = res
	if res != nil {
		l.Debug("收到模拟响应", "status", res.StatusCode, "duration", time.Since(start))
	} else {
		l.Debug("无模拟响应", "duration", time.Since(start))
	}
	return out
}

// await 等待空闲后封存槽位并读取模拟响应，panic 也转换为错误
func (c *Controller) await(ctx context.Context, ir *InteractiveRequest, requestID string) (res *traffic.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolve panicked: %v", r)
		}
	}()

	err = c.interceptor.emitter.UntilIdle(ctx, EventRequest, func(args []any) bool {
		id, _ := args[1].(string)
		return id == requestID
	})
	if err != nil {
		return nil, err
	}
	ir.seal()
	return ir.Invoked(ctx)
}

// EmitResponse 发射响应事件，res 应为交付给调用方之外的副本
func (c *Controller) EmitResponse(ctx context.Context, res *traffic.Response, o *Outcome) {
	c.interceptor.emitter.Emit(context.WithoutCancel(ctx), EventResponse, res, o.Request, o.RequestID)
}
