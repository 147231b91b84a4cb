package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"netintercept/internal/adapter/roundtrip"
	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/internal/registry"
	"netintercept/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{DSN: filepath.Join(t.TempDir(), "journal.sqlite3"), Prefix: "test_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, ex := range []*Exchange{
		{RequestID: "a", Source: "roundtrip", URL: "https://api.example/users", Status: 200, Mocked: true},
		{RequestID: "b", Source: "roundtrip", URL: "https://cdn.example/app.js", Status: 304},
		{RequestID: "c", Source: "cdp.fetch", URL: "https://api.example/orders", Status: 500},
	} {
		ex.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, j.Record(ctx, ex))
	}

	all, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RequestID)

	mocked := true
	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"by source", Filter{Source: "roundtrip"}, []string{"b", "a"}},
		{"by url", Filter{URLContains: "api.example"}, []string{"c", "a"}},
		{"mocked only", Filter{Mocked: &mocked}, []string{"a"}},
		{"since", Filter{Since: base.Add(1500 * time.Millisecond)}, []string{"c"}},
		{"limit", Filter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.List(ctx, tt.f)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, ex := range got {
				ids = append(ids, ex.RequestID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	ex, err := j.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 304, ex.Status)

	_, err = j.Get(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestNewExchange(t *testing.T) {
	req := traffic.NewRequest()
	req.Method = "POST"
	req.URL = "https://api.example/login"
	req.Headers.Set("Content-Type", "application/json")
	req.Body = []byte(`{"u":"x"}`)
	ir := interceptor.NewInteractiveRequest(req)

	res := traffic.NewResponse()
	res.StatusCode = 201
	res.Body = []byte("ok")
	require.NoError(t, ir.RespondWith(res))

	ex := NewExchange("roundtrip", res, ir, "id-1")
	assert.Equal(t, "id-1", ex.RequestID)
	assert.Equal(t, "POST", ex.Method)
	assert.True(t, ex.Mocked)
	assert.Equal(t, 9, ex.RequestSize)
	assert.Equal(t, 2, ex.ResponseSize)
	assert.Equal(t, "{}", ex.ResponseHeaders)

	var h map[string]string
	require.NoError(t, json.Unmarshal([]byte(ex.RequestHeaders), &h))
	assert.Equal(t, "application/json", h["content-type"])
}

func TestListenerJournalsInterceptedTraffic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	defer srv.Close()

	env := registry.New()
	env.Register(registry.CapabilityHTTPTransport, srv.Client().Transport)

	j := openTest(t)
	i := roundtrip.NewInterceptor(interceptor.Config{})
	require.NoError(t, i.Apply(env))
	defer i.Restore()

	i.OnRequest(func(ctx context.Context, req *interceptor.InteractiveRequest, id string) error {
		if req.URL != "https://test.example/" {
			return nil
		}
		res := traffic.NewResponse()
		res.Body = []byte("mock")
		return req.RespondWith(res)
	})
	i.OnResponse(j.Listener(i.Name()))

	client := env.Client()
	for _, u := range []string{"https://test.example/", srv.URL} {
		res, err := client.Get(u)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		all, err := j.List(ctx, Filter{})
		return err == nil && len(all) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mocked := true
	got, err := j.List(ctx, Filter{Mocked: &mocked})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://test.example/", got[0].URL)
	assert.Equal(t, roundtrip.Name, got[0].Source)

	network := false
	got, err = j.List(ctx, Filter{Mocked: &network})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, http.StatusTeapot, got[0].Status)
	assert.Equal(t, len("short and stout"), got[0].ResponseSize)
}

func TestGormLoggerRoutesSQL(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(logger.NewWriter(&buf, "debug"))

	ctx := WithRequestID(context.Background(), "req-7")
	gl.LogMode(gormlogger.Info).Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
	assert.Contains(t, buf.String(), `"requestID":"req-7"`)

	buf.Reset()
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Empty(t, buf.String())

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, errors.New("no such column"))
	assert.Contains(t, buf.String(), "SQL执行错误")

	buf.Reset()
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	buf.Reset()
	gl.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), func() (string, int64) { return "SELECT x", 0 }, errors.New("boom"))
	assert.Empty(t, buf.String())
}
