// Package matcher runs one durable consumer per active subscription,
// gating and dispatching canonical events: receive, gate, dispatch, log,
// ack.
package matcher

import (
	"bytes"
	"context"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// backoffSchedule holds the delivery retry delays, a lookup table rather
// than a formula so the three retries are exactly these durations.
var backoffSchedule = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

func fixedBackoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	if attemptNum < len(backoffSchedule) {
		return backoffSchedule[attemptNum]
	}
	return backoffSchedule[len(backoffSchedule)-1]
}

// checkRetry retries on connect errors and 5xx, plus 408/429, and never
// retries any other 4xx.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return true, nil
	case resp.StatusCode >= 500:
		return true, nil
	default:
		return false, nil
	}
}

// WebhookDispatcher POSTs canonical events to subscriber-configured URLs
// with bounded retries.
type WebhookDispatcher struct {
	client *retryablehttp.Client
}

// NewWebhookDispatcher builds a dispatcher with exactly 3 retries on the
// fixed 1s/4s/16s schedule.
func NewWebhookDispatcher() *WebhookDispatcher {
	client := retryablehttp.NewClient()
	client.RetryMax = len(backoffSchedule)
	client.Backoff = fixedBackoff
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	return &WebhookDispatcher{client: client}
}

// DispatchResult is what the Subscription Matcher persists into
// SubscriptionEventLog after a webhook attempt.
type DispatchResult struct {
	Sent           bool
	ResponseStatus *int
}

// Dispatch POSTs payload to url as JSON, exhausting retries per the fixed
// schedule before giving up. A nil ResponseStatus means no response was
// ever received (connection never succeeded).
func (d *WebhookDispatcher) Dispatch(ctx context.Context, url string, payload []byte) DispatchResult {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return DispatchResult{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if resp == nil {
		return DispatchResult{}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	return DispatchResult{Sent: err == nil && status < 300, ResponseStatus: &status}
}
