package httpclient

import "net/http"

// RetryPolicy bounds how many times a single call may be sent.
//
// The client never sends a request more than MaxAttempts times, whatever
// ShouldRetry says, and the refresh call goes through a client with NoRetry,
// so a 401 from the refresh endpoint cannot recurse.
type RetryPolicy struct {
	MaxAttempts int
	// ShouldRetry reports whether a failed attempt (1-based) may be
	// recovered by refreshing the access token and sending again.
	ShouldRetry func(statusCode, attempt int) bool
}

// DefaultRetryPolicy refreshes and replays once on 401.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		ShouldRetry: func(statusCode, attempt int) bool {
			return statusCode == http.StatusUnauthorized && attempt == 1
		},
	}
}

// NoRetry sends every request exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) allows(statusCode, attempt int) bool {
	if attempt >= p.MaxAttempts || p.ShouldRetry == nil {
		return false
	}
	return p.ShouldRetry(statusCode, attempt)
}
