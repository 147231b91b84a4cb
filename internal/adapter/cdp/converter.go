package cdp

import (
	"encoding/base64"
	"encoding/json"

	"netintercept/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToNeutralRequest 将 CDP 暂停事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}

	req.Prepare()
	return req
}

// ToNeutralResponse 将响应阶段的暂停事件转换为中立 Response 模型
func ToNeutralResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := traffic.NewResponse()
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	if ev.ResponseStatusText != nil {
		res.Status = *ev.ResponseStatusText
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Set(h.Name, h.Value)
	}
	res.Body = body
	res.URL = ev.Request.URL
	return res
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

// ToFulfillArgs 以模拟响应构建 Fetch.fulfillRequest 参数
func ToFulfillArgs(id fetch.RequestID, res *traffic.Response) *fetch.FulfillRequestArgs {
	args := &fetch.FulfillRequestArgs{RequestID: id, ResponseCode: res.StatusCode}
	if len(res.Headers) > 0 {
		args.ResponseHeaders = ToHeaderEntries(res.Headers)
	}
	if len(res.Body) > 0 {
		args.Body = res.Body
	}
	if text := res.StatusText(); text != "" {
		args.ResponsePhrase = &text
	}
	return args
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(reply *fetch.GetResponseBodyReply) ([]byte, error) {
	if reply == nil {
		return nil, nil
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}
