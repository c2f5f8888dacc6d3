// Package webhook delivers signed JSON events to HTTP endpoints.
//
// Client posts a single payload with retries, exponential backoff and an
// optional per-endpoint circuit breaker. 4xx responses other than 408, 425
// and 429 are permanent and never retried. Dispatcher builds on Client: it
// wraps every event in an Envelope and fans it out to all configured
// endpoints, which is how the notification engine's webhook channel reaches
// the outside world.
//
// Receivers verify requests with Verify:
//
//	sig, err := webhook.ExtractSignature(r.Header)
//	if err != nil { ... }
//	if err := webhook.Verify(secret, body, sig, 5*time.Minute); err != nil { ... }
package webhook
