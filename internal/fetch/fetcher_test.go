package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/infra"
)

func testConfig() infra.RelayConfig {
	return infra.RelayConfig{
		FetchTimeout:  2 * time.Second,
		UserAgent:     "test-agent/1.0",
		CBMaxRequests: 3,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second,
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(testConfig(), zap.NewNop())
	res, err := f.Fetch(context.Background(), mustParse(t, srv.URL), http.Header{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Contains(t, string(res.Body), "hello")
}

func TestFetch_ForwardsOnlySafeHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	inbound := http.Header{}
	inbound.Set("Referer", "https://host.example/page")
	inbound.Set("Origin", "https://host.example")
	inbound.Set("Cookie", "secret=1")
	inbound.Set("Authorization", "Bearer token")

	f := New(testConfig(), zap.NewNop())
	_, err := f.Fetch(context.Background(), mustParse(t, srv.URL), inbound)
	require.NoError(t, err)

	assert.Equal(t, "https://host.example/page", got.Get("Referer"))
	assert.Equal(t, "https://host.example", got.Get("Origin"))
	assert.Empty(t, got.Get("Cookie"))
	assert.Empty(t, got.Get("Authorization"))
	assert.Equal(t, "test-agent/1.0", got.Get("User-Agent"))
}

func TestFetch_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landed"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(testConfig(), zap.NewNop())
	res, err := f.Fetch(context.Background(), mustParse(t, srv.URL), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "landed", string(res.Body))
}

func TestFetch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(testConfig(), zap.NewNop())
	_, err := f.Fetch(context.Background(), mustParse(t, srv.URL), http.Header{})

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusServiceUnavailable, upErr.Status)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.FetchTimeout = 50 * time.Millisecond

	f := New(cfg, zap.NewNop())
	start := time.Now()
	_, err := f.Fetch(context.Background(), mustParse(t, srv.URL), http.Header{})

	assert.ErrorIs(t, err, ErrTimeout)
	// Таймаут должен обрывать запрос, а не ждать ответа
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // закрываем сразу: соединение будет отклонено

	f := New(testConfig(), zap.NewNop())
	_, err := f.Fetch(context.Background(), mustParse(t, srv.URL), http.Header{})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetch_CircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f := New(testConfig(), zap.NewNop())
	target := mustParse(t, srv.URL)

	// Прогреваем предохранитель до срабатывания
	for i := 0; i < 7; i++ {
		_, _ = f.Fetch(context.Background(), target, http.Header{})
	}

	_, err := f.Fetch(context.Background(), target, http.Header{})
	assert.ErrorIs(t, err, ErrNetwork)
}
