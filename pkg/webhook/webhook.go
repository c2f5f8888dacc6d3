package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "notifykit-webhook/1.0"

// Client posts JSON bodies to webhook endpoints. Safe for concurrent use.
type Client struct {
	http *http.Client
	now  func() time.Time
}

// NewClient creates a client. A nil httpClient uses a pooled default.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{http: httpClient, now: time.Now}
}

// Post delivers body to rawURL, retrying network errors, 5xx and the
// retryable 4xx codes with backoff.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, opts ...PostOption) error {
	if err := validateTarget(rawURL, body); err != nil {
		return err
	}
	o := defaultPostOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.breaker != nil && !o.breaker.Allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ErrDeliveryFailed, ctx.Err())
			case <-time.After(o.backoff.NextInterval(attempt)):
			}
		}

		status, d, err := c.attempt(ctx, rawURL, body, o)
		if o.onAttempt != nil {
			o.onAttempt(Attempt{URL: rawURL, Number: attempt + 1, StatusCode: status, Duration: d, Err: err})
		}
		if o.breaker != nil {
			if err == nil {
				o.breaker.RecordSuccess()
			} else {
				o.breaker.RecordFailure()
			}
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, o.maxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, rawURL string, body []byte, o *postOptions) (int, time.Duration, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, time.Since(start), fmt.Errorf("build request: %w", err)
	}
	for k, v := range o.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if o.secret != "" {
		sig, err := Sign(o.secret, body, o.deliveryID, c.now())
		if err != nil {
			return 0, time.Since(start), err
		}
		sig.Apply(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return 0, time.Since(start), fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return 0, time.Since(start), fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	d := time.Since(start)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, d, nil
	}

	msg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	if text := strings.ReplaceAll(string(snippet), "\n", " "); text != "" {
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		msg += ": " + text
	}
	return resp.StatusCode, d, errors.New(msg)
}

func validateTarget(rawURL string, body []byte) error {
	if rawURL == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: body cannot be empty", ErrInvalidPayload)
	}
	return nil
}

// isPermanent reports 4xx responses that a retry cannot fix.
func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
