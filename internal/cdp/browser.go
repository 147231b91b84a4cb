// Package cdp 连接浏览器的 DevTools 端点。
package cdp

import (
	"context"
	"errors"
	"fmt"

	"netintercept/internal/logger"
	"netintercept/internal/registry"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"
)

// ErrNoTarget 找不到可附加的目标
var ErrNoTarget = errors.New("no target")

// TargetInfo 浏览器目标信息
type TargetInfo struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`

	webSocketURL string
}

// ListTargets 列出 DevTools 端点上的目标
func ListTargets(ctx context.Context, devtoolsURL string) ([]TargetInfo, error) {
	targets, err := devtool.New(devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets at %s: %w", devtoolsURL, err)
	}
	out := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, TargetInfo{
			ID:           t.ID,
			Type:         string(t.Type),
			URL:          t.URL,
			Title:        t.Title,
			webSocketURL: t.WebSocketDebuggerURL,
		})
	}
	return out, nil
}

// SelectTarget 按 ID 选择目标；id 为空时取第一个页面
func SelectTarget(targets []TargetInfo, id string) (TargetInfo, error) {
	for _, t := range targets {
		if id != "" && t.ID == id {
			return t, nil
		}
		if id == "" && t.Type == string(devtool.Page) {
			return t, nil
		}
	}
	if id == "" {
		return TargetInfo{}, ErrNoTarget
	}
	return TargetInfo{}, fmt.Errorf("%w: %s", ErrNoTarget, id)
}

// Conn 与单个目标的连接
type Conn struct {
	Target TargetInfo
	Client *cdp.Client

	conn *rpcc.Conn
	log  logger.Logger
}

// Attach 连接到指定目标
func Attach(ctx context.Context, devtoolsURL, target string, l logger.Logger) (*Conn, error) {
	if l == nil {
		l = logger.NewNop()
	}
	targets, err := ListTargets(ctx, devtoolsURL)
	if err != nil {
		return nil, err
	}
	sel, err := SelectTarget(targets, target)
	if err != nil {
		return nil, err
	}

	conn, err := rpcc.DialContext(ctx, sel.webSocketURL)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", sel.ID, err)
	}
	l.Info("已附加目标", "target", sel.ID, "url", sel.URL, "title", sel.Title)
	return &Conn{Target: sel, Client: cdp.NewClient(conn), conn: conn, log: l}, nil
}

// Register 把连接的 Fetch 域登记为拦截能力
func (c *Conn) Register(env *registry.Registry) {
	env.Register(registry.CapabilityCDPFetch, c.Client.Fetch)
}

// Close 断开连接
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	c.log.Info("已分离目标", "target", c.Target.ID)
	return c.conn.Close()
}
