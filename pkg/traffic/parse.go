package traffic

import (
	"net/url"
	"strings"
)

// Prepare 根据 URL 与 Cookie 头填充预解析字段
func (r *Request) Prepare() {
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	if r.Cookies == nil {
		r.Cookies = make(map[string]string)
	}
	if r.Headers == nil {
		r.Headers = make(Header)
	}

	if r.URL != "" {
		if u, err := url.Parse(r.URL); err == nil {
			for key, vals := range u.Query() {
				if len(vals) > 0 {
					r.Query[strings.ToLower(key)] = vals[0]
				}
			}
		}
	}

	if v := r.Headers.Get("cookie"); v != "" {
		for name, val := range ParseCookie(v) {
			r.Cookies[strings.ToLower(name)] = val
		}
	}
}

// ParseCookie 解析 Cookie 请求头
func ParseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// ParseSetCookie 解析 Set-Cookie 的名称与值
func ParseSetCookie(s string) (string, string) {
	// CookieName=CookieValue; Attr=...
	p := strings.SplitN(s, ";", 2)
	first := strings.TrimSpace(p[0])
	kv := strings.SplitN(first, "=", 2)
	if len(kv) == 2 {
		return kv[0], kv[1]
	}
	return "", ""
}
