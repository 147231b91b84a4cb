package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpadapter "netintercept/internal/adapter/cdp"
	"netintercept/internal/cdp"
	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/internal/metrics"
	"netintercept/internal/registry"
	"netintercept/internal/rules"
	"netintercept/internal/session"
	"netintercept/internal/storage"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// Service 服务接口
type Service interface {
	// ListTargets 列出目标
	ListTargets(ctx context.Context, devtoolsURL string) ([]cdp.TargetInfo, error)

	// AttachTarget 附加目标并启用拦截，返回会话 ID
	AttachTarget(ctx context.Context, devtoolsURL, target string) (session.ID, error)

	// DetachTarget 还原拦截并分离目标
	DetachTarget(id session.ID) error

	// Interceptor 返回会话的拦截器，用于注册自定义监听器
	Interceptor(id session.ID) (*Interceptor, error)

	// LoadRules 加载规则配置
	LoadRules(id session.ID, rs rules.RuleSet) error

	// GetRuleStats 获取规则统计信息
	GetRuleStats(id session.ID) (rules.Stats, error)

	// Close 还原全部会话
	Close()
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Logger         logger.Logger
	ProcessTimeout time.Duration
	URLPattern     string
	// Journal 非空时记录每个响应
	Journal *storage.Journal
	// Metrics 非空时统计每个拦截器
	Metrics *metrics.Metrics
}

// NewService 创建并返回服务接口实现
func NewService(cfg ServiceConfig) Service {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &service{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: session.NewManager(cfg.Logger),
		engines:  make(map[session.ID]*rules.Engine),
	}
}

type service struct {
	cfg      ServiceConfig
	log      logger.Logger
	sessions *session.Manager

	mu      sync.Mutex
	engines map[session.ID]*rules.Engine
}

func (s *service) ListTargets(ctx context.Context, devtoolsURL string) ([]cdp.TargetInfo, error) {
	return cdp.ListTargets(ctx, devtoolsURL)
}

func (s *service) AttachTarget(ctx context.Context, devtoolsURL, target string) (session.ID, error) {
	conn, err := cdp.Attach(ctx, devtoolsURL, target, s.log)
	if err != nil {
		return "", err
	}
	env := registry.New()
	conn.Register(env)

	id, err := s.install(env, session.ID(conn.Target.ID))
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	sess, _ := s.sessions.Get(id)
	sess.OnClose(func() {
		if err := conn.Close(); err != nil {
			s.log.Warn("关闭目标连接失败", "sessionID", string(id), "error", err)
		}
	})
	return id, nil
}

// install 在 env 上安装 Fetch 拦截器并挂载记录与指标
func (s *service) install(env *registry.Registry, id session.ID) (session.ID, error) {
	i := cdpadapter.NewInterceptor(
		cdpadapter.Config{URLPattern: s.cfg.URLPattern},
		interceptor.Config{Logger: s.log.With("sessionID", string(id)), ProcessTimeout: s.cfg.ProcessTimeout},
	)
	if err := i.Apply(env); err != nil {
		return "", fmt.Errorf("apply interceptor: %w", err)
	}

	sess, err := s.sessions.Create(id, i)
	if err != nil {
		i.Restore()
		return "", err
	}
	if s.cfg.Journal != nil {
		i.OnResponse(s.cfg.Journal.Listener(i.Name()))
	}
	if s.cfg.Metrics != nil {
		sess.OnClose(s.cfg.Metrics.Attach(i))
	}
	sess.OnClose(func() {
		s.mu.Lock()
		delete(s.engines, id)
		s.mu.Unlock()
	})
	return id, nil
}

func (s *service) DetachTarget(id session.ID) error {
	if _, ok := s.sessions.Get(id); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(id)
	return nil
}

func (s *service) Interceptor(id session.ID) (*Interceptor, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	i, ok := sess.Interceptor().(*Interceptor)
	if !ok {
		return nil, fmt.Errorf("session %s holds %T", id, sess.Interceptor())
	}
	return i, nil
}

func (s *service) LoadRules(id session.ID, rs rules.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	i, err := s.Interceptor(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[id]; ok {
		e.Update(rs)
		s.log.Info("已更新规则", "sessionID", string(id), "rules", len(rs.Rules))
		return nil
	}
	e := rules.New(rs, s.log.With("sessionID", string(id)))
	i.OnRequest(e.Listener())
	s.engines[id] = e
	s.log.Info("已加载规则", "sessionID", string(id), "rules", len(rs.Rules))
	return nil
}

func (s *service) GetRuleStats(id session.ID) (rules.Stats, error) {
	s.mu.Lock()
	e, ok := s.engines[id]
	s.mu.Unlock()
	if !ok {
		if _, exists := s.sessions.Get(id); !exists {
			return rules.Stats{}, ErrSessionNotFound
		}
		return rules.Stats{ByRule: map[rules.RuleID]int64{}}, nil
	}
	return e.Stats(), nil
}

func (s *service) Close() {
	s.sessions.RestoreAll()
}
