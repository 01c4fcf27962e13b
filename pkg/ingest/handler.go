// Package ingest is the public POST /ingest/{source} endpoint: a
// per-publisher webhook front door with size limiting, rate limiting,
// and signature verification ahead of the broker publish.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/ratelimit"
	"github.com/langhookd/langhookd/pkg/signature"
)

// Handler wires the Ingest Pipeline's dependencies for one echo route.
type Handler struct {
	client  *broker.Client
	limiter *ratelimit.Limiter
	cfg     *config.Config
	metrics *metrics.Metrics
}

// New builds an ingest Handler.
func New(client *broker.Client, limiter *ratelimit.Limiter, cfg *config.Config, m *metrics.Metrics) *Handler {
	return &Handler{client: client, limiter: limiter, cfg: cfg, metrics: m}
}

// acceptedResponse is the 202 body returned on successful publish.
type acceptedResponse struct {
	RequestID string `json:"request_id"`
}

// Ingest handles POST /ingest/:source, in order: size limit, rate limit,
// JSON parse (DLQ on failure), signature verification, publish.
func (h *Handler) Ingest(c *echo.Context) error {
	source := strings.ToLower(c.Param("source"))
	ctx := c.Request().Context()

	// 1. Body size limit.
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body exceeds maximum size")
	}

	// 2. Rate limit on client IP.
	result, err := h.limiter.Check(ctx, c.RealIP(), h.cfg.RateLimit.Limit, h.cfg.RateLimit.Window)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "rate limiter unavailable")
	}
	if !result.Allowed {
		c.Response().Header().Set("Retry-After", formatRetryAfter(result.RetryAfter))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	// 3. Parse JSON; on failure, DLQ the raw bytes and the parse error.
	if !json.Valid(body) {
		h.deadLetterInvalidJSON(ctx, source, c.Request().Header, body, "request body is not valid JSON")
		h.metrics.IncEventsFailed(source, "invalid-json")
		return echo.NewHTTPError(http.StatusBadRequest, "request body is not valid JSON")
	}

	// 4. Signature verification.
	headers := flattenHeaders(c.Request().Header)
	secret := h.cfg.Publishers[source]
	sigResult := signature.Verify(source, secret, headers, body)
	if !sigResult.Valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	// 5. Build and publish the RawEvent.
	raw := domain.RawEvent{
		ID:             uuid.NewString(),
		ReceivedAt:     time.Now().UTC(),
		Source:         source,
		Headers:        headers,
		SignatureValid: sigResult.Valid,
		Payload:        body,
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to marshal raw event")
	}
	if err := h.client.Publish(ctx, "raw", "raw."+source, nil, rawJSON); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to publish raw event")
	}

	return c.JSON(http.StatusAccepted, &acceptedResponse{RequestID: raw.ID})
}

// deadLetterInvalidJSON best-effort publishes an unparseable body to its
// DLQ subject. A marshal or publish failure here is ignored without
// logging; the caller's 400 response does not depend on it.
func (h *Handler) deadLetterInvalidJSON(ctx context.Context, source string, headers http.Header, body []byte, reason string) {
	entry := struct {
		Source  string            `json:"source"`
		Headers map[string]string `json:"headers"`
		Body    []byte            `json:"body"`
		Error   string            `json:"error"`
	}{Source: source, Headers: flattenHeaders(headers), Body: body, Error: reason}

	if payload, err := json.Marshal(entry); err == nil {
		_ = h.client.Publish(ctx, "dlq", "dlq.ingest."+source, nil, payload)
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
