package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "pricedb-agent", Timeout: time.Second})
	ctx := context.Background()
	collector := f.buildCollector(ctx, pricedb.Request{URL: "https://example.com"}, time.Unix(0, 0), &pricedb.Response{}, new(error))
	if collector.UserAgent != "pricedb-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected URL revisits to be allowed")
	}
	if collector.Context != ctx {
		t.Fatal("expected request context on collector")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := pricedb.Request{
		URL:     "https://example.com",
		Headers: http.Header{"Authorization": {"Bearer tok"}},
	}
	var result pricedb.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("Authorization") != "Bearer tok" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"value":[]}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != `{"value":[]}` {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	if !errors.Is(fetchErr, pricedb.ErrUnauthorized) {
		t.Fatalf("expected unauthorized status error, got %v", fetchErr)
	}
}

func TestGetAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"Items":[]}`))
		case "/denied":
			w.WriteHeader(http.StatusUnauthorized)
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 100 * time.Millisecond, ConnectTimeout: 50 * time.Millisecond})
	headers := http.Header{"Authorization": {"Bearer tok"}}

	resp, err := f.Get(context.Background(), pricedb.Request{URL: srv.URL + "/ok", Headers: headers})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"Items":[]}`, string(resp.Body))

	// Same URL twice must not be rejected as already visited.
	_, err = f.Get(context.Background(), pricedb.Request{URL: srv.URL + "/ok", Headers: headers})
	require.NoError(t, err)

	_, err = f.Get(context.Background(), pricedb.Request{URL: srv.URL + "/denied"})
	require.ErrorIs(t, err, pricedb.ErrUnauthorized)

	_, err = f.Get(context.Background(), pricedb.Request{URL: srv.URL + "/missing"})
	var statusErr *pricedb.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.NotErrorIs(t, err, pricedb.ErrUnauthorized)

	_, err = f.Get(context.Background(), pricedb.Request{URL: srv.URL + "/slow"})
	require.Error(t, err)
}

func TestGetCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Get(ctx, pricedb.Request{URL: srv.URL})
	require.Error(t, err)
}

func TestGetWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{err: errors.New("limited")}
	_, err := New(Config{Limiter: limiter}).Get(context.Background(), pricedb.Request{URL: "https://example.com/x"})
	require.ErrorContains(t, err, "limited")
	require.Equal(t, []string{"https://example.com/x"}, limiter.urls)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}
