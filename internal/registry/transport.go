package registry

import (
	"fmt"
	"net/http"
)

// delegatingTransport 每次请求时从注册表读取当前的 RoundTripper
type delegatingTransport struct {
	r *Registry
}

// RoundTripper 返回稳定的委托传输，应用只需接线一次
func (r *Registry) RoundTripper() http.RoundTripper {
	return &delegatingTransport{r: r}
}

// Client 返回使用委托传输的 http.Client
func (r *Registry) Client() *http.Client {
	return &http.Client{Transport: r.RoundTripper()}
}

func (t *delegatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt, ok := t.r.Load(CapabilityHTTPTransport).(http.RoundTripper)
	if !ok || rt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, CapabilityHTTPTransport)
	}
	return rt.RoundTrip(req)
}
