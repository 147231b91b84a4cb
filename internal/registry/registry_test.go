package registry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDefaultHasHTTPTransport(t *testing.T) {
	assert.True(t, Default.Has(CapabilityHTTPTransport))
	assert.Equal(t, http.DefaultTransport, Default.Load(CapabilityHTTPTransport))
}

func TestPatchAndRestore(t *testing.T) {
	r := New()
	orig := &http.Transport{}
	r.Register(CapabilityHTTPTransport, orig)

	sub := roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, nil })
	restore, err := r.Patch(CapabilityHTTPTransport, "owner-1", sub)
	require.NoError(t, err)

	owner, ok := r.PatchedBy(CapabilityHTTPTransport)
	assert.True(t, ok)
	assert.Equal(t, "owner-1", owner)

	_, err = r.Patch(CapabilityHTTPTransport, "owner-2", sub)
	require.ErrorIs(t, err, ErrAlreadyPatched)

	restore()
	restore()

	assert.Same(t, orig, r.Load(CapabilityHTTPTransport))
	_, ok = r.PatchedBy(CapabilityHTTPTransport)
	assert.False(t, ok)
}

func TestPatchUnknownCapability(t *testing.T) {
	r := New()
	assert.False(t, r.Has(CapabilityCDPFetch))
	_, err := r.Patch(CapabilityCDPFetch, "x", struct{}{})
	require.ErrorIs(t, err, ErrUnknownCapability)
}

func TestRegisterWhilePatchedKeepsSubstitute(t *testing.T) {
	r := New()
	r.Register(CapabilityHTTPTransport, http.DefaultTransport)
	sub := roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, nil })
	restore, err := r.Patch(CapabilityHTTPTransport, "o", sub)
	require.NoError(t, err)

	replacement := &http.Transport{}
	r.Register(CapabilityHTTPTransport, replacement)
	_, ok := r.PatchedBy(CapabilityHTTPTransport)
	assert.True(t, ok)

	restore()
	assert.Same(t, replacement, r.Load(CapabilityHTTPTransport))
}

func TestDelegatingTransportFollowsPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "real")
	}))
	defer srv.Close()

	r := New()
	r.Register(CapabilityHTTPTransport, http.DefaultTransport)
	client := r.Client()

	read := func() string {
		res, err := client.Get(srv.URL)
		require.NoError(t, err)
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "real", read())

	restore, err := r.Patch(CapabilityHTTPTransport, "o", roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("fake")),
			Header:     http.Header{},
			Request:    req,
		}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "fake", read())

	restore()
	assert.Equal(t, "real", read())
}

func TestDelegatingTransportWithoutCapability(t *testing.T) {
	r := New()
	_, err := r.RoundTripper().RoundTrip(httptest.NewRequest(http.MethodGet, "http://x/", nil))
	require.ErrorIs(t, err, ErrUnknownCapability)
}
