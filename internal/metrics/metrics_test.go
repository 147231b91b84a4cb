package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"netintercept/internal/adapter/roundtrip"
	"netintercept/internal/interceptor"
	"netintercept/internal/registry"
	"netintercept/pkg/traffic"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listenersMetadata = `
	# HELP netintercept_request_listeners The number of request listeners registered on the interceptor.
	# TYPE netintercept_request_listeners gauge
`

func TestAttachCountsTraffic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "real")
	}))
	defer srv.Close()

	env := registry.New()
	env.Register(registry.CapabilityHTTPTransport, srv.Client().Transport)

	i := roundtrip.NewInterceptor(interceptor.Config{})
	require.NoError(t, i.Apply(env))
	defer i.Restore()

	m := New(nil)
	detach := m.Attach(i)
	i.OnRequest(func(ctx context.Context, req *interceptor.InteractiveRequest, id string) error {
		if strings.HasPrefix(req.URL, "https://test.example") {
			return req.RespondWith(traffic.NewResponse())
		}
		return nil
	})

	client := env.Client()
	for _, u := range []string{"https://test.example/", "https://test.example/a", srv.URL} {
		res, err := client.Get(u)
		require.NoError(t, err)
		_ = res.Body.Close()
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(roundtrip.Name)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ResponsesTotal.WithLabelValues(roundtrip.Name, SourceMock)) == 2 &&
			testutil.ToFloat64(m.ResponsesTotal.WithLabelValues(roundtrip.Name, SourceNetwork)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(listenersMetadata+`
	netintercept_request_listeners{interceptor="roundtrip"} 2
`), "netintercept_request_listeners")
	assert.NoError(t, err)

	detach()
	detach()
	assert.Equal(t, 1, i.ListenerCount(interceptor.EventRequest))
	assert.Equal(t, 0, i.ListenerCount(interceptor.EventResponse))

	err = testutil.GatherAndCompare(m.Registry(), strings.NewReader(""), "netintercept_request_listeners")
	assert.NoError(t, err)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.RequestsTotal.WithLabelValues("cdp.fetch").Add(4)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `netintercept_requests_total{interceptor="cdp.fetch"} 4`)
}

func TestServeStopsWithContext(t *testing.T) {
	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
