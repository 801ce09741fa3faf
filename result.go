package webpush

import "net/http"

// Result is the outcome of one delivery attempt to one subscription.
// Delivery failures are reported here rather than as errors.
type Result struct {
	Success bool `json:"success"`
	// StatusCode is the push service's HTTP status, or 0 when no response
	// was received (network, crypto or signing failure).
	StatusCode int    `json:"statusCode"`
	Endpoint   string `json:"endpoint"`
	Error      string `json:"error,omitempty"`
	// Expired is set when the push service reported the subscription gone.
	Expired bool `json:"expired,omitempty"`
}

// Retryable reports whether a later attempt may succeed.
func (r *Result) Retryable() bool {
	return IsRetryable(r.StatusCode)
}

// ShouldRemove reports whether the subscription should be deleted.
func (r *Result) ShouldRemove() bool {
	return IsExpired(r.StatusCode)
}

// IsRetryable reports whether status indicates a transient push service
// condition: 429 or any 5xx.
func IsRetryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// IsExpired reports whether status means the subscription no longer exists.
func IsExpired(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

func failed(endpoint string, status int, msg string) *Result {
	return &Result{
		StatusCode: status,
		Endpoint:   endpoint,
		Error:      msg,
		Expired:    IsExpired(status),
	}
}
