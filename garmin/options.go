package garmin

import (
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the Garmin Connect web host
	DefaultBaseURL = "https://connect.garmin.com"
	// DefaultSSOURL is the Garmin single sign-on root
	DefaultSSOURL = "https://sso.garmin.com/sso"
	// DefaultUserAgent mimics a desktop browser; the SSO pages reject
	// obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.88 Safari/537.36"

	defaultTimeout    = 30 * time.Second
	defaultSSORetries = 2
)

// Option configures a Client.
type Option func(*clientOptions)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	baseURL    string
	ssoURL     string
	timeout    time.Duration
	userAgent  string
	ssoRetries int
	httpClient *http.Client
	exchange   CredentialExchange
	metrics    *Metrics

	autoLogin bool
	email     string
	password  string
}

func defaultOptions() clientOptions {
	return clientOptions{
		baseURL:    DefaultBaseURL,
		ssoURL:     DefaultSSOURL,
		timeout:    defaultTimeout,
		userAgent:  DefaultUserAgent,
		ssoRetries: defaultSSORetries,
	}
}

// WithBaseURL sets the Garmin Connect host. API calls go to <baseURL>/proxy/.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

// WithSSOURL sets the single sign-on root used by the default exchange.
func WithSSOURL(ssoURL string) Option {
	return func(o *clientOptions) {
		if ssoURL != "" {
			o.ssoURL = ssoURL
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(o *clientOptions) {
		o.userAgent = userAgent
	}
}

// WithSSORetries sets how many times a sign-on step is retried after a
// transport error or 5xx response.
func WithSSORetries(retries int) Option {
	return func(o *clientOptions) {
		if retries >= 0 {
			o.ssoRetries = retries
		}
	}
}

// WithHTTPClient sets the client used for API requests. Its timeout wins
// over WithTimeout.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithExchange replaces the SSO credential exchange.
func WithExchange(exchange CredentialExchange) Option {
	return func(o *clientOptions) {
		o.exchange = exchange
	}
}

// WithMetrics records fetch attempts and refreshes into m.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithAutoLogin makes the first fetch log in with the given credentials
// instead of failing with a not-authenticated error.
func WithAutoLogin(email, password string) Option {
	return func(o *clientOptions) {
		o.autoLogin = true
		o.email = email
		o.password = password
	}
}
