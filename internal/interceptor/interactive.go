package interceptor

import (
	"context"
	"sync"

	"netintercept/pkg/traffic"
)

// InteractiveRequest 暴露给监听器的请求视图，携带一次性写入的模拟响应槽位
type InteractiveRequest struct {
	*traffic.Request

	mu        sync.Mutex
	response  *traffic.Response
	responded bool
	sealed    bool
	done      chan struct{}
}

// NewInteractiveRequest 包装请求
func NewInteractiveRequest(req *traffic.Request) *InteractiveRequest {
	return &InteractiveRequest{
		Request: req,
		done:    make(chan struct{}),
	}
}

// RespondWith 提供模拟响应，只能成功调用一次
func (r *InteractiveRequest) RespondWith(res *traffic.Response) error {
	if res == nil {
		return ErrNilResponse
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return ErrAlreadyResponded
	}
	if r.sealed {
		return ErrRequestSealed
	}
	r.response = res
	r.responded = true
	close(r.done)
	return nil
}

// Responded 是否已提供模拟响应
func (r *InteractiveRequest) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// Response 返回已提供的模拟响应，未提供时为 nil
func (r *InteractiveRequest) Response() *traffic.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Invoked 等待槽位确定：返回模拟响应，或在封存后返回 nil
func (r *InteractiveRequest) Invoked(ctx context.Context) (*traffic.Response, error) {
	select {
	case <-r.done:
		return r.Response(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// seal 由解析流程在确认不会再有监听器响应后调用
func (r *InteractiveRequest) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.sealed = true
	if !r.responded {
		close(r.done)
	}
}
