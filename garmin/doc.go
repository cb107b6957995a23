// Package garmin provides a client for the Garmin Connect web API.
//
// Garmin Connect has no public token API for personal data; the client signs
// in through the SSO pages like a browser and keeps the resulting cookies as
// its session. Sessions expire without notice, so every request goes through
// one fetch path that renews the session when the server rejects it.
//
// # Architecture
//
//   - Session: owns the authenticated handle and account, re-authenticates on demand
//   - Fetcher: issues requests, classifies outcomes, retries once after re-authentication
//   - Catalog: maps logical resource names to URL templates
//   - SSOExchange: the default CredentialExchange
//   - Client: one accessor per resource on top of the above
//
// # Usage
//
//	logger := zerolog.New(os.Stdout)
//	client := garmin.NewClient(logger, garmin.WithTimeout(30*time.Second))
//
//	ctx := context.Background()
//	if _, err := client.Login(ctx, email, password); err != nil {
//		log.Fatal(err)
//	}
//
//	summary, err := client.GetUserSummary(ctx, time.Now())
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Retry policy
//
// A 401 or 403 response, or a user summary flagged privacyProtected, makes the
// fetcher re-authenticate once and repeat the request once. A second rejection
// fails with an authentication error. 429 responses are never retried; callers
// must back off themselves. Other failures are returned immediately.
//
// # Error Handling
//
// Every failure is an *Error of one of four kinds:
//
//   - ErrNotAuthenticated: fetch before login with auto-login disabled
//   - ErrAuthenticationFailed: credentials rejected, or session still rejected after a refresh
//   - ErrTooManyRequests: rate limited
//   - ErrConnectionFailed: any other server or transport failure, with the status if one was received
//
// Match them with errors.Is:
//
//	if errors.Is(err, garmin.ErrTooManyRequests) {
//		// back off
//	}
package garmin
