package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// maxAttempts bounds physical attempts per fetch: the original request plus
// one retry after re-authentication.
const maxAttempts = 2

// Fetcher executes requests with the session's handle and applies the
// re-authentication and error classification policy.
type Fetcher struct {
	session    *Session
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *Metrics
	userAgent  string

	autoLogin bool
	email     string
	password  string
}

// NewFetcher creates a Fetcher bound to session
func NewFetcher(session *Session, httpClient *http.Client, logger zerolog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{
		session:    session,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch performs d and decodes a successful JSON body into out. out may be
// nil to discard the body.
func (f *Fetcher) Fetch(ctx context.Context, d RequestDescriptor, out any) error {
	if err := f.ensureSession(ctx, d.Name); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		handle, generation, err := f.session.snapshot()
		if err != nil {
			return withOp(err, d.Name)
		}

		outcome, status, body, err := f.attempt(ctx, d, handle)
		if outcome == OutcomeSuccess && d.Guard != nil && d.Guard(body) {
			f.logger.Debug().Str("resource", d.Name).Msg("Response body marks data as protected")
			outcome = OutcomeUnauthorized
		}
		f.metrics.observeAttempt(d.Name, outcome)

		switch outcome {
		case OutcomeSuccess:
			return decode(d.Name, status, body, out)

		case OutcomeRateLimited:
			return newError(KindTooManyRequests, d.Name, status, nil)

		case OutcomeUnauthorized:
			if attempt >= maxAttempts {
				return newError(KindAuthenticationFailed, d.Name, status, nil)
			}
			f.logger.Debug().
				Str("resource", d.Name).
				Int("status", status).
				Msg("Session rejected, refreshing before retry")
			if err := f.session.Refresh(ctx, generation); err != nil {
				return withOp(err, d.Name)
			}

		default:
			return newError(KindConnectionFailed, d.Name, status, err)
		}
	}
}

// ensureSession fails fast when the session was never authenticated, unless
// auto-login is enabled.
func (f *Fetcher) ensureSession(ctx context.Context, op string) error {
	if f.session.IsAuthenticated() {
		return nil
	}
	if !f.autoLogin {
		return newError(KindNotAuthenticated, op, 0, nil)
	}
	f.logger.Debug().Str("resource", op).Msg("Auto-login before first request")
	return withOp(f.session.login(ctx, f.email, f.password), op)
}

// attempt issues one physical request. body is only set on success.
func (f *Fetcher) attempt(ctx context.Context, d RequestDescriptor, handle *Handle) (Outcome, int, []byte, error) {
	req, err := d.newRequest(ctx)
	if err != nil {
		return OutcomeTransportError, 0, nil, err
	}
	handle.apply(req)
	if f.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	f.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Making Garmin Connect API request")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return OutcomeTransportError, 0, nil, err
	}
	defer resp.Body.Close()
	handle.absorb(resp)

	outcome := classify(resp)
	if outcome != OutcomeSuccess {
		_, _ = io.Copy(io.Discard, resp.Body)
		return outcome, resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OutcomeTransportError, resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return outcome, resp.StatusCode, body, nil
}

func decode(op string, status int, body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(KindConnectionFailed, op, status, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// withOp fills in the operation name on a typed error that lacks one
func withOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok && e.Op == "" {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}
