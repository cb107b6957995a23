package garmin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSSO serves the sign-in widget, the credential form and the Connect
// landing page from one TLS server.
type fakeSSO struct {
	*httptest.Server
	password     string
	signinStatus int
	postStatus   int
	signinHits   atomic.Int32
}

func newFakeSSO(t *testing.T) *fakeSSO {
	t.Helper()
	f := &fakeSSO{password: "secret", signinStatus: 200, postStatus: 200}

	mux := http.NewServeMux()
	mux.HandleFunc("/sso/signin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			f.signinHits.Add(1)
			assert.Equal(t, "GarminConnect", r.URL.Query().Get("clientId"))
			http.SetCookie(w, &http.Cookie{Name: "SSO_WIDGET", Value: "w1", Path: "/"})
			w.WriteHeader(f.signinStatus)
			return
		}

		if f.postStatus != 200 {
			w.WriteHeader(f.postStatus)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "e1s1", r.PostForm.Get("lt"))
		if c, err := r.Cookie("SSO_WIDGET"); assert.NoError(t, err) {
			assert.Equal(t, "w1", c.Value)
		}
		if r.PostForm.Get("password") != f.password {
			fmt.Fprint(w, `<html><body>Invalid sign in</body></html>`)
			return
		}
		ticketURL := `https:\/\/` + r.Host + `\/modern?ticket=ST-0042`
		fmt.Fprintf(w, `<script>var response_url = "%s";</script>`, ticketURL)
	})
	mux.HandleFunc("/modern", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ST-0042", r.URL.Query().Get("ticket"))
		http.SetCookie(w, &http.Cookie{Name: "SESSIONID", Value: "connect-session", Path: "/"})
		fmt.Fprint(w, `<script>window.VIEWER_SOCIAL_PROFILE = JSON.parse("{\"displayName\":\"runner\",\"userName\":\"runner@example.com\"}");</script>`)
	})

	f.Server = httptest.NewTLSServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSSO) exchange(retries int) *SSOExchange {
	e := NewSSOExchange(f.URL, f.URL+"/sso", DefaultUserAgent, 5*time.Second, retries, zerolog.Nop())
	e.transport = f.Client().Transport
	return e
}

func TestSSOExchange_Success(t *testing.T) {
	sso := newFakeSSO(t)

	handle, account, err := sso.exchange(0).Exchange(context.Background(), "runner@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, AccountID{DisplayName: "runner", UserName: "runner@example.com"}, account)

	req, err := http.NewRequest(http.MethodGet, sso.URL+"/proxy/device-service/deviceregistration/devices", nil)
	require.NoError(t, err)
	handle.apply(req)

	c, err := req.Cookie("SESSIONID")
	require.NoError(t, err)
	assert.Equal(t, "connect-session", c.Value)
	assert.Equal(t, DefaultUserAgent, req.Header.Get("User-Agent"))
}

func TestSSOExchange_Failures(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		sso := newFakeSSO(t)

		_, _, err := sso.exchange(0).Exchange(context.Background(), "runner@example.com", "wrong")

		require.Error(t, err)
		assert.True(t, IsAuthenticationFailed(err))
		assert.Contains(t, err.Error(), "no service ticket")
	})

	t.Run("rate limited", func(t *testing.T) {
		sso := newFakeSSO(t)
		sso.postStatus = http.StatusTooManyRequests

		_, _, err := sso.exchange(2).Exchange(context.Background(), "runner@example.com", "secret")

		require.Error(t, err)
		assert.True(t, IsTooManyRequests(err))
	})

	t.Run("forbidden", func(t *testing.T) {
		sso := newFakeSSO(t)
		sso.postStatus = http.StatusForbidden

		_, _, err := sso.exchange(0).Exchange(context.Background(), "runner@example.com", "secret")

		assert.True(t, IsAuthenticationFailed(err))
		assert.Equal(t, 403, StatusCode(err))
	})

	t.Run("server error is retried then surfaced", func(t *testing.T) {
		sso := newFakeSSO(t)
		sso.signinStatus = http.StatusBadGateway

		_, _, err := sso.exchange(1).Exchange(context.Background(), "runner@example.com", "secret")

		require.Error(t, err)
		assert.True(t, IsConnectionFailed(err))
		assert.Equal(t, 502, StatusCode(err))
		assert.Equal(t, int32(2), sso.signinHits.Load())
	})

	t.Run("unreachable", func(t *testing.T) {
		sso := newFakeSSO(t)
		e := sso.exchange(0)
		sso.Close()

		_, _, err := e.Exchange(context.Background(), "runner@example.com", "secret")

		require.Error(t, err)
		assert.True(t, IsConnectionFailed(err))
	})
}

func TestParseSocialProfile(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		page := `<script>
window.VIEWER_SOCIAL_PROFILE = JSON.parse("{\"displayName\":\"abc-123\",\"userName\":\"me@example.com\",\"id\":7}");
</script>`
		account, err := parseSocialProfile(page)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", account.DisplayName)
		assert.Equal(t, "me@example.com", account.UserName)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := parseSocialProfile(`<html></html>`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("no display name", func(t *testing.T) {
		_, err := parseSocialProfile(`VIEWER_SOCIAL_PROFILE = JSON.parse("{\"userName\":\"me\"}");`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no display name")
	})
}
