package webhook

import (
	"net/http"
	"time"
)

// Attempt describes one delivery try.
type Attempt struct {
	URL        string
	Number     int
	StatusCode int
	Duration   time.Duration
	Err        error
}

// AttemptHook observes every delivery try.
type AttemptHook func(Attempt)

type postOptions struct {
	timeout    time.Duration
	headers    http.Header
	maxRetries int
	backoff    BackoffStrategy
	secret     string
	deliveryID string
	breaker    *CircuitBreaker
	onAttempt  AttemptHook
}

func defaultPostOptions() *postOptions {
	return &postOptions{
		timeout:    10 * time.Second,
		headers:    make(http.Header),
		maxRetries: 3,
		backoff:    DefaultBackoff(),
	}
}

// PostOption configures a single Client.Post call.
type PostOption func(*postOptions)

// WithTimeout bounds each HTTP attempt. Defaults to 10s.
func WithTimeout(d time.Duration) PostOption {
	return func(o *postOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithHeader(key, value string) PostOption {
	return func(o *postOptions) {
		if key != "" && value != "" {
			o.headers.Set(key, value)
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) PostOption {
	return func(o *postOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithBackoff(b BackoffStrategy) PostOption {
	return func(o *postOptions) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithSignature signs the body with secret and tags it with deliveryID.
func WithSignature(secret, deliveryID string) PostOption {
	return func(o *postOptions) {
		o.secret = secret
		o.deliveryID = deliveryID
	}
}

// WithCircuitBreaker guards the endpoint. Share one breaker per endpoint.
func WithCircuitBreaker(cb *CircuitBreaker) PostOption {
	return func(o *postOptions) { o.breaker = cb }
}

func WithOnAttempt(h AttemptHook) PostOption {
	return func(o *postOptions) { o.onAttempt = h }
}

// WithNoRetry makes a single attempt.
func WithNoRetry() PostOption {
	return func(o *postOptions) { o.maxRetries = 0 }
}
