package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, transientStatus(code), "status %d should be transient", code)
	}
	for _, code := range []int{200, 301, 400, 403, 404} {
		assert.False(t, transientStatus(code), "status %d should not be transient", code)
	}
}

func TestIsChallenge_DetectsCloudflareInterstitial(t *testing.T) {
	assert.True(t, isChallenge(503, "Checking your browser before accessing example.com"))
	assert.True(t, isChallenge(403, "Attention Required! | Cloudflare"))
	assert.False(t, isChallenge(200, "Checking your browser before accessing example.com"))
	assert.False(t, isChallenge(503, "a normal error page"))
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://example.com", originOf("https://example.com/a/b?x=1"))
	assert.Equal(t, "http://example.com:8080", originOf("http://example.com:8080/path"))
}

func TestRawFetch_SuccessCapturesStatusAndHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	result, err := rawFetch(context.Background(), srv.Client(), srv.URL, "atlas-crawler/1.0", 1024*1024)
	require.Nil(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Len(t, result.RawHTMLHash, 64)
	assert.Equal(t, "text/html", result.ContentType)
}

func TestRawFetch_TransientStatusIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := rawFetch(context.Background(), srv.Client(), srv.URL, "atlas-crawler/1.0", 1024*1024)
	require.NotNil(t, err)
	assert.True(t, err.Retryable)
}

func TestRawFetch_TerminalStatusIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := rawFetch(context.Background(), srv.Client(), srv.URL, "atlas-crawler/1.0", 1024*1024)
	require.NotNil(t, err)
	assert.False(t, err.Retryable)
}

func TestRawFetch_ByteCapExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	_, err := rawFetch(context.Background(), srv.Client(), srv.URL, "atlas-crawler/1.0", 50)
	require.NotNil(t, err)
	assert.Equal(t, CauseByteCap, err.Cause)
}

func TestDefaultRetryParam_AllowsThreeAttempts(t *testing.T) {
	p := DefaultRetryParam(1)
	assert.Equal(t, 3, p.MaxAttempts)
}
