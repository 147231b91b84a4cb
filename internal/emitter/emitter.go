// Package emitter 提供带空闲等待（UntilIdle）能力的发布/订阅总线。
//
// 每次 Emit 都会为当时已注册的每个监听器登记一次调用，并在该次发射专属的
// 协程中按注册顺序执行。UntilIdle 只等待调用时已登记、且发射参数满足谓词的
// 调用，之后新产生的调用不在等待范围内。
//
// 通过 WithRetain 指定的事件，其失败的调用会保留到被某次 UntilIdle 收集为止，
// 因此即使监听器在等待开始前就已失败，错误也不会丢失。
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ListenerID 监听器注册句柄
type ListenerID string

// Listener 监听器，返回的错误会被记录到对应调用上
type Listener func(ctx context.Context, args ...any) error

// Predicate 根据发射参数决定是否等待该次调用
type Predicate func(args []any) bool

// ErrListenerPanic 监听器发生 panic 时包装的错误
var ErrListenerPanic = errors.New("listener panicked")

type registration struct {
	id ListenerID
	fn Listener
}

// invocation 单个监听器的一次调用
type invocation struct {
	event string
	args  []any
	done  chan struct{}
	err   error
	// abandoned 等待方已超时放弃，结束后不再保留
	abandoned bool
}

// ErrorHandler 监听器失败回调
type ErrorHandler func(event string, args []any, err error)

// Option 总线选项
type Option func(*Emitter)

// WithRetain 保留指定事件中失败的调用，直到被 UntilIdle 收集
func WithRetain(events ...string) Option {
	return func(e *Emitter) {
		for _, ev := range events {
			e.retain[ev] = true
		}
	}
}

// WithErrorHandler 设置监听器失败回调
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Emitter) {
		e.onError = h
	}
}

// Emitter 事件总线
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]registration
	inflight  map[*invocation]struct{}
	retain    map[string]bool
	onError   ErrorHandler
}

// New 创建事件总线
func New(opts ...Option) *Emitter {
	e := &Emitter{
		listeners: make(map[string][]registration),
		inflight:  make(map[*invocation]struct{}),
		retain:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// On 注册监听器，同一函数重复注册会被重复调用
func (e *Emitter) On(event string, fn Listener) ListenerID {
	id := ListenerID(uuid.NewString())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], registration{id: id, fn: fn})
	return id
}

// Off 移除监听器，返回是否找到
func (e *Emitter) Off(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[event]
	for i := range regs {
		if regs[i].id == id {
			e.listeners[event] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllListeners 移除事件的全部监听器，event 为空时清空所有事件
func (e *Emitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event == "" {
		e.listeners = make(map[string][]registration)
		return
	}
	delete(e.listeners, event)
}

// ListenerCount 返回事件的监听器数量
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit 发射事件，不等待监听器完成；ctx 传递给监听器
func (e *Emitter) Emit(ctx context.Context, event string, args ...any) {
	e.mu.Lock()
	regs := append([]registration(nil), e.listeners[event]...)
	if len(regs) == 0 {
		e.mu.Unlock()
		return
	}
	calls := make([]*invocation, len(regs))
	for i := range regs {
		inv := &invocation{event: event, args: args, done: make(chan struct{})}
		calls[i] = inv
		e.inflight[inv] = struct{}{}
	}
	e.mu.Unlock()

	go func() {
		for i, reg := range regs {
			e.run(ctx, reg.fn, calls[i])
		}
	}()
}

func (e *Emitter) run(ctx context.Context, fn Listener, inv *invocation) {
	defer func() {
		if r := recover(); r != nil {
			inv.err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
		e.mu.Lock()
		if inv.err == nil || !e.retain[inv.event] || inv.abandoned {
			delete(e.inflight, inv)
		}
		onError := e.onError
		// 在锁内结束，abandon 据此区分已结束与仍在执行的调用
		close(inv.done)
		e.mu.Unlock()
		if inv.err != nil && onError != nil {
			onError(inv.event, inv.args, inv.err)
		}
	}()
	inv.err = fn(ctx, inv.args...)
}

// UntilIdle 等待当前已登记且满足谓词的调用全部结束，返回它们的错误合集
func (e *Emitter) UntilIdle(ctx context.Context, event string, match Predicate) error {
	e.mu.Lock()
	var pending []*invocation
	for inv := range e.inflight {
		if inv.event != event {
			continue
		}
		if match != nil && !match(inv.args) {
			continue
		}
		pending = append(pending, inv)
	}
	e.mu.Unlock()

	var errs []error
	for _, inv := range pending {
		select {
		case <-inv.done:
			if inv.err != nil {
				errs = append(errs, inv.err)
			}
		case <-ctx.Done():
			e.abandon(pending)
			return ctx.Err()
		}
	}

	// 已收集的失败调用不再保留
	e.mu.Lock()
	for _, inv := range pending {
		delete(e.inflight, inv)
	}
	e.mu.Unlock()

	return errors.Join(errs...)
}

// abandon 清理已结束的调用，并让仍在执行的调用结束后自行清理
func (e *Emitter) abandon(pending []*invocation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inv := range pending {
		select {
		case <-inv.done:
			delete(e.inflight, inv)
		default:
			inv.abandoned = true
		}
	}
}

// Pending 返回事件已登记但尚未被清理的调用数（含保留的失败调用）
func (e *Emitter) Pending(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for inv := range e.inflight {
		if inv.event == event {
			n++
		}
	}
	return n
}
