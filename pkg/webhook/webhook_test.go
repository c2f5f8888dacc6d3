package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

var fastRetry = webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Millisecond})

func TestClient_Post_Success(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"notification.order_shipped"}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "notifykit-webhook/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))

		got, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err := webhook.NewClient(nil).Post(context.Background(), server.URL, body, webhook.WithHeader("X-Extra", "yes"))
	assert.NoError(t, err)
}

func TestClient_Post_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   error
	}{
		{"recovers after 5xx", []int{500, 502, 200}, 3, nil},
		{"gives up after retries", []int{503, 503, 503, 503}, 4, webhook.ErrDeliveryFailed},
		{"4xx is permanent", []int{400}, 1, webhook.ErrPermanentFailure},
		{"429 is retried", []int{429, 200}, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer server.Close()

			var attempts []webhook.Attempt
			err := webhook.NewClient(nil).Post(context.Background(), server.URL, []byte(`{}`),
				fastRetry,
				webhook.WithOnAttempt(func(a webhook.Attempt) { attempts = append(attempts, a) }),
			)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
			require.Len(t, attempts, int(tt.wantCalls))
			assert.Equal(t, int(tt.wantCalls), attempts[len(attempts)-1].Number)
		})
	}
}

func TestClient_Post_Signed(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"n1"}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		sig, err := webhook.ExtractSignature(r.Header)
		require.NoError(t, err)
		assert.Equal(t, "d-1", sig.ID)
		assert.NoError(t, webhook.Verify("s3cret", got, sig, time.Minute))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := webhook.NewClient(nil).Post(context.Background(), server.URL, body, webhook.WithSignature("s3cret", "d-1"))
	assert.NoError(t, err)
}

func TestClient_Post_InvalidTarget(t *testing.T) {
	t.Parallel()

	c := webhook.NewClient(nil)
	ctx := context.Background()
	assert.ErrorIs(t, c.Post(ctx, "", []byte(`{}`)), webhook.ErrInvalidURL)
	assert.ErrorIs(t, c.Post(ctx, "ftp://example.com", []byte(`{}`)), webhook.ErrInvalidURL)
	assert.ErrorIs(t, c.Post(ctx, "https://", []byte(`{}`)), webhook.ErrInvalidURL)
	assert.ErrorIs(t, c.Post(ctx, "https://example.com", nil), webhook.ErrInvalidPayload)
}

func TestClient_Post_CircuitOpen(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := webhook.NewCircuitBreaker(2, 1, time.Hour)
	c := webhook.NewClient(nil)
	err := c.Post(context.Background(), server.URL, []byte(`{}`), webhook.WithCircuitBreaker(cb), webhook.WithMaxRetries(1), fastRetry)
	assert.ErrorIs(t, err, webhook.ErrDeliveryFailed)
	assert.Equal(t, webhook.CircuitOpen, cb.State())

	err = c.Post(context.Background(), server.URL, []byte(`{}`), webhook.WithCircuitBreaker(cb))
	assert.True(t, webhook.IsCircuitOpen(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Post_ContextCancelledBetweenRetries(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	err := webhook.NewClient(nil).Post(ctx, server.URL, []byte(`{}`),
		webhook.WithBackoff(webhook.FixedBackoff{Interval: time.Hour}),
		webhook.WithOnAttempt(func(webhook.Attempt) { cancel() }),
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, webhook.ErrDeliveryFailed)
}
