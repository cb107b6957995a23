package garmin

import "net/http"

// Outcome is the classification of one physical HTTP attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeUnauthorized
	OutcomeRateLimited
	OutcomeServerError
	OutcomeTransportError
)

// String returns the string representation of an Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// classify maps a response status to an Outcome. A nil response means the
// request never got one.
func classify(resp *http.Response) Outcome {
	if resp == nil {
		return OutcomeTransportError
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return OutcomeUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeSuccess
	default:
		return OutcomeServerError
	}
}
