// Package rules 按声明式规则为拦截的请求生成模拟响应。
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/pkg/traffic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Engine 规则引擎
type Engine struct {
	mu  sync.RWMutex
	rs  RuleSet
	log logger.Logger

	statsMu sync.Mutex
	stats   Stats
}

// New 创建规则引擎
func New(rs RuleSet, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{rs: rs, log: l, stats: Stats{ByRule: make(map[RuleID]int64)}}
}

// Update 替换规则集
func (e *Engine) Update(rs RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
}

// Ctx 规则求值所需的请求视图
type Ctx struct {
	URL          string
	Method       string
	ResourceType string
	Headers      map[string]string
	Query        map[string]string
	Cookies      map[string]string
	Body         []byte
	ContentType  string
}

// CtxFromRequest 由中立请求构建求值上下文
func CtxFromRequest(req *traffic.Request) Ctx {
	return Ctx{
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		Headers:      req.Headers,
		Query:        req.Query,
		Cookies:      req.Cookies,
		Body:         req.Body,
		ContentType:  req.Headers.Get("content-type"),
	}
}

// Result 命中结果
type Result struct {
	RuleID RuleID
	Action Action
}

// Eval 返回优先级最高的命中规则，未命中返回 nil
func (e *Engine) Eval(ctx Ctx) *Result {
	e.mu.RLock()
	rules := e.rs.Rules
	e.mu.RUnlock()

	var chosen *Rule
	for i := range rules {
		r := &rules[i]
		if !matchRule(ctx, r.Match) {
			continue
		}
		if chosen == nil || r.Priority > chosen.Priority {
			chosen = r
			// 只有成为当前选中规则的短路规则才终止匹配
			if r.Mode == ModeShortCircuit {
				break
			}
		}
	}
	e.count(chosen)
	if chosen == nil {
		return nil
	}
	return &Result{RuleID: chosen.ID, Action: chosen.Action}
}

func (e *Engine) count(r *Rule) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Total++
	if r != nil {
		e.stats.Matched++
		e.stats.ByRule[r.ID]++
	}
}

// Stats 返回统计快照
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{Total: e.stats.Total, Matched: e.stats.Matched, ByRule: make(map[RuleID]int64, len(e.stats.ByRule))}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

// FailError 命中 fail 动作时监听器返回的错误
type FailError struct {
	Rule   RuleID
	Reason string
}

func (e *FailError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rule %s: request failed", e.Rule)
	}
	return fmt.Sprintf("rule %s: %s", e.Rule, e.Reason)
}

// Listener 返回可注册到拦截器的请求监听器
func (e *Engine) Listener() interceptor.RequestListener {
	return func(ctx context.Context, req *interceptor.InteractiveRequest, requestID string) error {
		res := e.Eval(CtxFromRequest(req.Request))
		if res == nil {
			return nil
		}
		l := e.log.With("rule", string(res.RuleID), "requestID", requestID)
		a := res.Action

		if a.DelayMS > 0 {
			t := time.NewTimer(time.Duration(a.DelayMS) * time.Millisecond)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		switch {
		case a.Fail != nil:
			l.Info("规则使请求失败", "url", req.URL)
			return &FailError{Rule: res.RuleID, Reason: a.Fail.Reason}
		case a.Respond != nil:
			if req.Responded() {
				l.Debug("请求已被应答，跳过规则")
				return nil
			}
			mock, err := BuildResponse(a.Respond)
			if err != nil {
				return fmt.Errorf("rule %s: %w", res.RuleID, err)
			}
			l.Info("规则模拟响应", "url", req.URL, "status", mock.StatusCode)
			return req.RespondWith(mock)
		}
		return nil
	}
}

// BuildResponse 按 respond 动作构建模拟响应
func BuildResponse(r *Respond) (*traffic.Response, error) {
	res := traffic.NewResponse()
	if r.Status > 0 {
		res.StatusCode = r.Status
	}
	for k, v := range r.Headers {
		res.Headers.Set(k, v)
	}

	body := []byte(r.Body)
	for _, p := range r.Patches {
		var err error
		if p.Value == nil {
			body, err = sjson.DeleteBytes(body, p.Path)
		} else {
			body, err = sjson.SetBytes(body, p.Path, p.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("patch %q: %w", p.Path, err)
		}
	}
	if len(body) > 0 {
		res.Body = body
	}
	if len(r.Patches) > 0 && res.Headers.Get("content-type") == "" {
		res.Headers.Set("Content-Type", "application/json")
	}
	return res, nil
}

func matchRule(ctx Ctx, m Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(ctx Ctx, cs []Condition) bool { return !anyOf(ctx, cs) }

func cond(ctx Ctx, c Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case "regex":
			return matchRegex(ctx.URL, c.Pattern)
		case "exact":
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case "method":
		return oneOf(ctx.Method, c.Values)
	case "resource_type":
		return oneOf(ctx.ResourceType, c.Values)
	case "header":
		return lookup(ctx.Headers, c)
	case "query":
		return lookup(ctx.Query, c)
	case "cookie":
		return lookup(ctx.Cookies, c)
	case "text":
		if len(ctx.Body) == 0 {
			return false
		}
		return compare(string(ctx.Body), c)
	case "json":
		if len(ctx.Body) == 0 || !gjson.ValidBytes(ctx.Body) {
			return false
		}
		v := gjson.GetBytes(ctx.Body, c.Path)
		if !v.Exists() {
			return false
		}
		return compare(v.String(), c)
	default:
		return false
	}
}

func oneOf(v string, values []string) bool {
	for _, want := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func lookup(m map[string]string, c Condition) bool {
	v, ok := m[strings.ToLower(c.Key)]
	if !ok {
		return false
	}
	return compare(v, c)
}

func compare(v string, c Condition) bool {
	switch c.Op {
	case "equals":
		return v == c.Value
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return matchRegex(v, c.Value)
	default:
		return true
	}
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
