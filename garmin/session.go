package garmin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// AccountID identifies the account a session belongs to
type AccountID struct {
	DisplayName string
	UserName    string
}

// Handle carries the transport-level auth state produced by a credential
// exchange. It is opaque outside this package.
type Handle struct {
	jar    http.CookieJar
	header http.Header
}

// NewHandle bundles a cookie jar and static headers into a Handle.
// Either may be nil.
func NewHandle(jar http.CookieJar, header http.Header) *Handle {
	return &Handle{jar: jar, header: header.Clone()}
}

// apply authorizes req with the handle's headers and cookies. Handle
// headers replace any value already on the request.
func (h *Handle) apply(req *http.Request) {
	for k, vs := range h.header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if h.jar != nil {
		for _, c := range h.jar.Cookies(req.URL) {
			req.AddCookie(c)
		}
	}
}

// absorb stores cookies the server set on resp
func (h *Handle) absorb(resp *http.Response) {
	if h.jar == nil || resp.Request == nil {
		return
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		h.jar.SetCookies(resp.Request.URL, cookies)
	}
}

// CredentialExchange performs whatever handshake the remote service requires
// and returns an authenticated handle plus the resolved account.
type CredentialExchange interface {
	Exchange(ctx context.Context, email, password string) (*Handle, AccountID, error)
}

// ExchangeFunc adapts a function to CredentialExchange
type ExchangeFunc func(ctx context.Context, email, password string) (*Handle, AccountID, error)

// Exchange calls f
func (f ExchangeFunc) Exchange(ctx context.Context, email, password string) (*Handle, AccountID, error) {
	return f(ctx, email, password)
}

// Session holds the single authenticated session for one account.
type Session struct {
	exchange CredentialExchange
	logger   zerolog.Logger
	metrics  *Metrics

	mu       sync.RWMutex
	handle   *Handle
	account  AccountID
	email    string
	password string
	// generation increments on every successful authentication so that
	// callers can tell whether the handle they used has been replaced.
	generation uint64

	refresh singleflight.Group
}

// NewSession creates an uninitialized session backed by exchange
func NewSession(exchange CredentialExchange, logger zerolog.Logger) *Session {
	return &Session{
		exchange: exchange,
		logger:   logger,
	}
}

// Authenticate runs the credential exchange and, only on success, replaces
// the stored handle, account and credentials.
func (s *Session) Authenticate(ctx context.Context, email, password string) (AccountID, error) {
	s.logger.Debug().Str("email", email).Msg("Authenticating with Garmin Connect")

	handle, account, err := s.exchange.Exchange(ctx, email, password)
	if err != nil {
		if KindOf(err) == 0 {
			kind := KindAuthenticationFailed
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				kind = KindConnectionFailed
			}
			err = newError(kind, "login", 0, err)
		}
		s.logger.Warn().Err(err).Msg("Authentication failed")
		return AccountID{}, err
	}
	if handle == nil {
		return AccountID{}, newError(KindAuthenticationFailed, "login", 0, nil)
	}

	s.mu.Lock()
	s.handle = handle
	s.account = account
	s.email = email
	s.password = password
	s.generation++
	s.mu.Unlock()

	s.logger.Info().
		Str("display_name", account.DisplayName).
		Str("user_name", account.UserName).
		Msg("Authenticated with Garmin Connect")

	return account, nil
}

// IsAuthenticated reports whether Authenticate has ever succeeded
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil
}

// CurrentHandle returns the current handle
func (s *Session) CurrentHandle() (*Handle, error) {
	h, _, err := s.snapshot()
	return h, err
}

// Account returns the account resolved by the last successful login
func (s *Session) Account() (AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return AccountID{}, newError(KindNotAuthenticated, "", 0, nil)
	}
	return s.account, nil
}

// snapshot returns the handle together with its generation
func (s *Session) snapshot() (*Handle, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return nil, 0, newError(KindNotAuthenticated, "", 0, nil)
	}
	return s.handle, s.generation, nil
}

// login authenticates once on behalf of all concurrent callers that found
// the session empty.
func (s *Session) login(ctx context.Context, email, password string) error {
	_, err, _ := s.refresh.Do("login", func() (any, error) {
		if s.IsAuthenticated() {
			return nil, nil
		}
		_, err := s.Authenticate(ctx, email, password)
		return nil, err
	})
	return err
}

// Refresh re-authenticates with the stored credentials after the handle of
// generation stale was rejected. Only one re-authentication runs at a time;
// concurrent callers wait for it and share its result. If stale has already
// been superseded Refresh returns immediately.
func (s *Session) Refresh(ctx context.Context, stale uint64) error {
	s.mu.RLock()
	current, email, password := s.generation, s.email, s.password
	s.mu.RUnlock()

	if current == 0 {
		return newError(KindNotAuthenticated, "refresh", 0, nil)
	}
	if current != stale {
		return nil
	}

	// The flight outlives any single waiter so one caller's cancellation
	// does not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	// Keyed by generation: a caller that saw the handle this flight is
	// installing must start its own flight rather than join this one.
	key := "refresh-" + strconv.FormatUint(stale, 10)
	ch := s.refresh.DoChan(key, func() (any, error) {
		s.mu.RLock()
		superseded := s.generation != stale
		s.mu.RUnlock()
		if superseded {
			return nil, nil
		}

		s.metrics.observeRefresh()

		s.logger.Info().Msg("Session rejected, re-authenticating")
		_, err := s.Authenticate(flightCtx, email, password)
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return newError(KindConnectionFailed, "refresh", 0, ctx.Err())
	}
}
