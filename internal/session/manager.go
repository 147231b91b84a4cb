package session

import (
	"errors"
	"sync"

	"netintercept/internal/logger"
)

// ErrSessionExists 会话 ID 已被占用
var ErrSessionExists = errors.New("session already exists")

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[ID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[ID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(id ID, i Interceptor) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return nil, ErrSessionExists
	}
	s := New(id, i)
	m.sessions[id] = s
	m.log.Info("创建拦截会话", "sessionID", string(id), "interceptor", i.Name())
	return s, nil
}

// Get 获取会话
func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 还原并销毁会话
func (m *Manager) Delete(id ID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("销毁拦截会话", "sessionID", string(id))
	}
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// RestoreAll 还原全部会话，用于退出前清理
func (m *Manager) RestoreAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[ID]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		m.log.Info("已还原拦截会话", "sessionID", string(id))
	}
}
