// Package metrics 以 Prometheus 指标暴露拦截器的流量。
//
// 暴露的指标：
// netintercept_requests_total{interceptor}
// netintercept_responses_total{interceptor, source}
// netintercept_request_listeners{interceptor}
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/pkg/traffic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "netintercept"

	// 响应来源
	SourceMock    = "mock"
	SourceNetwork = "network"

	serverShutdownTimeout = 5 * time.Second
	serverReadTimeout     = 8 * time.Second
	serverWriteTimeout    = 8 * time.Second
	serverMaxHeaderBytes  = 1 << 20 // 1 MiB
)

var requestListenersDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "request_listeners"),
	"The number of request listeners registered on the interceptor.",
	[]string{"interceptor"}, nil,
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry
	log      logger.Logger

	RequestsTotal  *prometheus.CounterVec
	ResponsesTotal *prometheus.CounterVec

	mu       sync.RWMutex
	attached map[string]*interceptor.Interceptor
}

// New 创建指标集合并注册到独立的 Registry
func New(l logger.Logger) *Metrics {
	if l == nil {
		l = logger.NewNop()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		log:      l,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "The number of requests seen by the interceptor.",
			},
			[]string{"interceptor"},
		),
		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "The number of responses delivered, by source.",
			},
			[]string{"interceptor", "source"},
		),
		attached: make(map[string]*interceptor.Interceptor),
	}
	m.registry.MustRegister(m.RequestsTotal, m.ResponsesTotal, &listenerCollector{m: m})
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Attach 在拦截器上注册计数监听器，返回的函数解除挂载
func (m *Metrics) Attach(i *interceptor.Interceptor) func() {
	name := i.Name()
	reqID := i.OnRequest(func(ctx context.Context, req *interceptor.InteractiveRequest, requestID string) error {
		m.RequestsTotal.WithLabelValues(name).Inc()
		return nil
	})
	resID := i.OnResponse(func(ctx context.Context, res *traffic.Response, req *interceptor.InteractiveRequest, requestID string) error {
		source := SourceNetwork
		if req != nil && req.Responded() {
			source = SourceMock
		}
		m.ResponsesTotal.WithLabelValues(name, source).Inc()
		return nil
	})

	m.mu.Lock()
	m.attached[i.ID()] = i
	m.mu.Unlock()
	m.log.Debug("已挂载指标监听器", "interceptor", name)

	var once sync.Once
	return func() {
		once.Do(func() {
			i.Off(reqID)
			i.Off(resID)
			m.mu.Lock()
			delete(m.attached, i.ID())
			m.mu.Unlock()
		})
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上提供 /metrics，ctx 结束时关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:           addr,
		ReadTimeout:    serverReadTimeout,
		WriteTimeout:   serverWriteTimeout,
		MaxHeaderBytes: serverMaxHeaderBytes,
		Handler:        mux,
	}

	errCh := make(chan error, 1)
	go func() {
		m.log.Info("指标服务已启动", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	m.log.Info("指标服务已停止")
	return nil
}

// listenerCollector 采集时读取各拦截器的监听器数量
type listenerCollector struct {
	m *Metrics
}

func (c *listenerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestListenersDesc
}

func (c *listenerCollector) Collect(ch chan<- prometheus.Metric) {
	c.m.mu.RLock()
	byName := make(map[string]int, len(c.m.attached))
	for _, i := range c.m.attached {
		byName[i.Name()] += i.ListenerCount(interceptor.EventRequest)
	}
	c.m.mu.RUnlock()

	for name, n := range byName {
		ch <- prometheus.MustNewConstMetric(requestListenersDesc, prometheus.GaugeValue, float64(n), name)
	}
}
