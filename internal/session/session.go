// Package session 管理一组已安装的拦截器及其附属资源。
package session

import (
	"sync"
	"time"
)

// ID 会话标识
type ID string

// Interceptor 会话持有的拦截器
type Interceptor interface {
	Name() string
	Restore()
}

// Session 一个拦截器及其关闭时需要释放的资源
type Session struct {
	ID        ID
	CreatedAt time.Time

	interceptor Interceptor

	mu      sync.Mutex
	closers []func()
	closed  bool
}

// New 创建会话
func New(id ID, i Interceptor) *Session {
	return &Session{ID: id, CreatedAt: time.Now(), interceptor: i}
}

// Interceptor 返回会话的拦截器
func (s *Session) Interceptor() Interceptor { return s.interceptor }

// OnClose 登记关闭时执行的清理，在拦截器还原之后逆序执行
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close 还原拦截器并执行清理，可重复调用
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.interceptor.Restore()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Closed 会话是否已关闭
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
