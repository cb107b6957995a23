package garmin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, exchange *stubExchange, login bool) (*Session, *Fetcher) {
	t.Helper()
	session := NewSession(exchange, zerolog.Nop())
	fetcher := NewFetcher(session, nil, zerolog.Nop())
	if login {
		_, err := session.Authenticate(context.Background(), "runner@example.com", "secret")
		require.NoError(t, err)
	}
	return session, fetcher
}

func descriptor(srv *scriptedServer) RequestDescriptor {
	return RequestDescriptor{Name: "test", Method: http.MethodGet, URL: srv.URL + "/proxy/test"}
}

func TestFetch_ValidSessionNeverReauthenticates(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{"steps":1000}`})
	exchange := newStubExchange()
	_, fetcher := newTestFetcher(t, exchange, true)

	for i := 0; i < 3; i++ {
		var out map[string]any
		require.NoError(t, fetcher.Fetch(context.Background(), descriptor(srv), &out))
		assert.Equal(t, float64(1000), out["steps"])
	}

	assert.Equal(t, 1, exchange.Calls())
	assert.Equal(t, 3, srv.Hits())
}

func TestFetch_UnauthorizedThenSuccess(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := newScriptedServer(t, step{status, ``}, step{200, `{"ok":true}`})
			exchange := newStubExchange()
			_, fetcher := newTestFetcher(t, exchange, true)

			var out map[string]any
			require.NoError(t, fetcher.Fetch(context.Background(), descriptor(srv), &out))

			assert.Equal(t, true, out["ok"])
			assert.Equal(t, 2, exchange.Calls())
			assert.Equal(t, 2, srv.Hits())
			assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, srv.Auths())
		})
	}
}

func TestFetch_UnauthorizedTwiceFails(t *testing.T) {
	srv := newScriptedServer(t, step{401, ``})
	exchange := newStubExchange()
	_, fetcher := newTestFetcher(t, exchange, true)

	err := fetcher.Fetch(context.Background(), descriptor(srv), nil)

	require.Error(t, err)
	assert.True(t, IsAuthenticationFailed(err))
	assert.Equal(t, 401, StatusCode(err))
	assert.Equal(t, 2, srv.Hits(), "no third attempt")
	assert.Equal(t, 2, exchange.Calls())
}

func TestFetch_RateLimitedIsNotRetried(t *testing.T) {
	srv := newScriptedServer(t, step{429, ``}, step{200, `{}`})
	exchange := newStubExchange()
	_, fetcher := newTestFetcher(t, exchange, true)

	err := fetcher.Fetch(context.Background(), descriptor(srv), nil)

	require.Error(t, err)
	assert.True(t, IsTooManyRequests(err))
	assert.Equal(t, 1, srv.Hits())
	assert.Equal(t, 1, exchange.Calls(), "only the initial login")
}

func TestFetch_ServerErrorIsConnectionFailed(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "internal error", status: 500},
		{name: "bad gateway", status: 502},
		{name: "not found", status: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newScriptedServer(t, step{tt.status, ``})
			exchange := newStubExchange()
			_, fetcher := newTestFetcher(t, exchange, true)

			err := fetcher.Fetch(context.Background(), descriptor(srv), nil)

			require.Error(t, err)
			assert.True(t, IsConnectionFailed(err))
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Equal(t, 1, srv.Hits())
			assert.Equal(t, 1, exchange.Calls())
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{}`})
	exchange := newStubExchange()
	_, fetcher := newTestFetcher(t, exchange, true)
	d := descriptor(srv)
	srv.Close()

	err := fetcher.Fetch(context.Background(), d, nil)

	require.Error(t, err)
	assert.True(t, IsConnectionFailed(err))
	assert.Equal(t, 0, StatusCode(err))
	assert.Equal(t, 1, exchange.Calls())
}

func TestFetch_InvalidJSONIsConnectionFailed(t *testing.T) {
	srv := newScriptedServer(t, step{200, `<html>`})
	_, fetcher := newTestFetcher(t, newStubExchange(), true)

	var out map[string]any
	err := fetcher.Fetch(context.Background(), descriptor(srv), &out)

	require.Error(t, err)
	assert.True(t, IsConnectionFailed(err))
	assert.Equal(t, 200, StatusCode(err))
}

func TestFetch_GuardBehavesLikeUnauthorized(t *testing.T) {
	t.Run("clears after refresh", func(t *testing.T) {
		srv := newScriptedServer(t,
			step{200, `{"privacyProtected":true}`},
			step{200, `{"privacyProtected":false,"totalSteps":42}`},
		)
		exchange := newStubExchange()
		_, fetcher := newTestFetcher(t, exchange, true)
		d := descriptor(srv)
		d.Guard = privacyProtected

		var out map[string]any
		require.NoError(t, fetcher.Fetch(context.Background(), d, &out))

		assert.Equal(t, float64(42), out["totalSteps"])
		assert.Equal(t, 2, exchange.Calls())
		assert.Equal(t, 2, srv.Hits())
	})

	t.Run("persists", func(t *testing.T) {
		srv := newScriptedServer(t, step{200, `{"privacyProtected":true}`})
		exchange := newStubExchange()
		_, fetcher := newTestFetcher(t, exchange, true)
		d := descriptor(srv)
		d.Guard = privacyProtected

		err := fetcher.Fetch(context.Background(), d, nil)

		require.Error(t, err)
		assert.True(t, IsAuthenticationFailed(err))
		assert.Equal(t, 2, srv.Hits())
		assert.Equal(t, 2, exchange.Calls())
	})
}

func TestFetch_NotAuthenticated(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{}`})
	exchange := newStubExchange()
	_, fetcher := newTestFetcher(t, exchange, false)

	err := fetcher.Fetch(context.Background(), descriptor(srv), nil)

	require.Error(t, err)
	assert.True(t, IsNotAuthenticated(err))
	assert.Equal(t, 0, srv.Hits())
	assert.Equal(t, 0, exchange.Calls())
}

func TestFetch_AutoLogin(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{}`})
	exchange := newStubExchange()
	session, fetcher := newTestFetcher(t, exchange, false)
	fetcher.autoLogin = true
	fetcher.email = "runner@example.com"
	fetcher.password = "secret"

	require.NoError(t, fetcher.Fetch(context.Background(), descriptor(srv), nil))
	require.NoError(t, fetcher.Fetch(context.Background(), descriptor(srv), nil))

	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, 1, exchange.Calls())
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-1"}, srv.Auths())
}

func TestFetch_RefreshFailureSurfacesAuthenticationFailed(t *testing.T) {
	srv := newScriptedServer(t, step{401, ``}, step{200, `{}`})
	exchange := newStubExchange()
	exchange.failFrom = 2
	session, fetcher := newTestFetcher(t, exchange, true)

	err := fetcher.Fetch(context.Background(), descriptor(srv), nil)

	require.Error(t, err)
	assert.True(t, IsAuthenticationFailed(err))
	assert.Equal(t, 1, srv.Hits())

	// the rejected refresh leaves the original handle in place
	h, err := session.CurrentHandle()
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", h.header.Get("Authorization"))
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{}`})
	_, fetcher := newTestFetcher(t, newStubExchange(), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fetcher.Fetch(ctx, descriptor(srv), nil)

	require.Error(t, err)
	assert.True(t, IsConnectionFailed(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetch_ConcurrentUnauthorizedRefreshesOnce(t *testing.T) {
	// answer 401 to the first handle and 200 to everything else
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	exchange := newStubExchange()
	session, fetcher := newTestFetcher(t, exchange, true)
	exchange.delay = 20 * time.Millisecond
	metrics := NewMetrics(prometheus.NewRegistry())
	session.metrics = metrics
	fetcher.metrics = metrics

	d := RequestDescriptor{Name: "test", URL: srv.URL + "/proxy/test"}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fetcher.Fetch(context.Background(), d, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, exchange.Calls(), "one initial login plus one shared refresh")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Refreshes), "waiters are not counted as refreshes")
}

func TestFetch_ConcurrentAutoLoginLogsInOnce(t *testing.T) {
	srv := newScriptedServer(t, step{200, `{}`})
	exchange := newStubExchange()
	exchange.delay = 20 * time.Millisecond
	session, fetcher := newTestFetcher(t, exchange, false)
	fetcher.autoLogin = true
	fetcher.email = "runner@example.com"
	fetcher.password = "secret"

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fetcher.Fetch(context.Background(), descriptor(srv), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, 1, exchange.Calls())
	assert.Equal(t, workers, srv.Hits())
}

func TestFetch_UserAgentSentOnce(t *testing.T) {
	var mu sync.Mutex
	var agents [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Values("User-Agent"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	d := RequestDescriptor{Name: "test", URL: srv.URL + "/proxy/test"}

	t.Run("handle agent wins", func(t *testing.T) {
		exchange := ExchangeFunc(func(ctx context.Context, email, password string) (*Handle, AccountID, error) {
			header := http.Header{}
			header.Set("User-Agent", "handle-agent")
			return NewHandle(nil, header), AccountID{DisplayName: "runner"}, nil
		})
		session := NewSession(exchange, zerolog.Nop())
		_, err := session.Authenticate(context.Background(), "runner@example.com", "secret")
		require.NoError(t, err)
		fetcher := NewFetcher(session, nil, zerolog.Nop())
		fetcher.userAgent = "fetcher-agent"

		require.NoError(t, fetcher.Fetch(context.Background(), d, nil))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"handle-agent"}, agents[len(agents)-1])
	})

	t.Run("fetcher agent fills in", func(t *testing.T) {
		_, fetcher := newTestFetcher(t, newStubExchange(), true)
		fetcher.userAgent = "fetcher-agent"

		require.NoError(t, fetcher.Fetch(context.Background(), d, nil))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"fetcher-agent"}, agents[len(agents)-1])
	})
}

func TestFetch_Metrics(t *testing.T) {
	srv := newScriptedServer(t, step{401, ``}, step{200, `{}`})
	session, fetcher := newTestFetcher(t, newStubExchange(), true)
	fetcher.metrics = NewMetrics(prometheus.NewRegistry())
	session.metrics = fetcher.metrics

	require.NoError(t, fetcher.Fetch(context.Background(), descriptor(srv), nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(fetcher.metrics.Attempts.WithLabelValues("test", "unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fetcher.metrics.Attempts.WithLabelValues("test", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fetcher.metrics.Refreshes))
}
