// Package registry 维护进程级的传输能力注册表。
//
// 每个能力（Capability）对应一个当前生效的实现。拦截器不直接替换运行时全局量，
// 而是通过 Patch 在注册表中登记替身，替身的归属标记保存在槽位上，而不是值本身。
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Capability 传输能力名称
type Capability string

const (
	// CapabilityHTTPTransport 对应 http.RoundTripper
	CapabilityHTTPTransport Capability = "http.transport"
	// CapabilityCDPFetch 对应浏览器 CDP Fetch 域
	CapabilityCDPFetch Capability = "cdp.fetch"
)

var (
	// ErrUnknownCapability 注册表中不存在该能力
	ErrUnknownCapability = errors.New("capability not registered")
	// ErrAlreadyPatched 能力已被其他拦截器替换
	ErrAlreadyPatched = errors.New("capability already patched")
)

// slot 能力槽位
type slot struct {
	value    any
	original any
	owner    string
}

// Registry 能力注册表
type Registry struct {
	mu    sync.RWMutex
	slots map[Capability]*slot
}

// Default 进程级注册表，预置 http.DefaultTransport
var Default = newDefault()

func newDefault() *Registry {
	r := New()
	r.Register(CapabilityHTTPTransport, http.DefaultTransport)
	return r
}

// New 创建空注册表
func New() *Registry {
	return &Registry{slots: make(map[Capability]*slot)}
}

// Register 登记能力的原始实现，已被替换的槽位只更新其原始值
func (r *Registry) Register(c Capability, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[c]; ok && s.owner != "" {
		s.original = v
		return
	}
	r.slots[c] = &slot{value: v}
}

// Unregister 移除能力
func (r *Registry) Unregister(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, c)
}

// Has 能力是否存在
func (r *Registry) Has(c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[c]
	return ok && s.value != nil
}

// Load 读取当前生效的实现
func (r *Registry) Load(c Capability) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.slots[c]; ok {
		return s.value
	}
	return nil
}

// PatchedBy 返回替换该能力的拦截器标识
func (r *Registry) PatchedBy(c Capability) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[c]
	if !ok || s.owner == "" {
		return "", false
	}
	return s.owner, true
}

// Patch 以 owner 的名义替换能力实现，返回还原函数
func (r *Registry) Patch(c Capability, owner string, v any) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[c]
	if !ok || s.value == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, c)
	}
	if s.owner != "" {
		return nil, fmt.Errorf("%w: %s by %s", ErrAlreadyPatched, c, s.owner)
	}
	s.original = s.value
	s.value = v
	s.owner = owner

	var once sync.Once
	return func() {
		once.Do(func() { r.unpatch(c, owner) })
	}, nil
}

func (r *Registry) unpatch(c Capability, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[c]
	if !ok || s.owner != owner {
		return
	}
	s.value = s.original
	s.original = nil
	s.owner = ""
}
