package api

import (
	"encoding/json"
	"time"

	"github.com/langhookd/langhookd/pkg/domain"
)

// subscriptionResponse is the JSON shape of a Subscription row. Domain
// structs are never serialized directly, so storage-layer field changes
// don't silently reshape the API.
type subscriptionResponse struct {
	ID            string            `json:"id"`
	SubscriberID  string            `json:"subscriber_id"`
	Description   string            `json:"description"`
	Pattern       string            `json:"pattern"`
	ChannelType   string            `json:"channel_type"`
	ChannelConfig map[string]string `json:"channel_config,omitempty"`
	Gate          *gateResponse     `json:"gate,omitempty"`
	Disposable    bool              `json:"disposable"`
	Active        bool              `json:"active"`
	Used          bool              `json:"used"`
	CreatedAt     time.Time         `json:"created_at"`
}

type gateResponse struct {
	Prompt         string  `json:"prompt"`
	Threshold      float64 `json:"threshold"`
	Audit          bool    `json:"audit"`
	FailoverPolicy string  `json:"failover_policy"`
}

func toSubscriptionResponse(s domain.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:            s.ID,
		SubscriberID:  s.SubscriberID,
		Description:   s.Description,
		Pattern:       s.Pattern,
		ChannelType:   string(s.ChannelType),
		ChannelConfig: s.ChannelConfig,
		Disposable:    s.Disposable,
		Active:        s.Active,
		Used:          s.Used,
		CreatedAt:     s.CreatedAt,
	}
	if s.Gate != nil {
		resp.Gate = &gateResponse{
			Prompt:         s.Gate.Prompt,
			Threshold:      s.Gate.Threshold,
			Audit:          s.Gate.Audit,
			FailoverPolicy: string(s.Gate.FailoverPolicy),
		}
	}
	return resp
}

func toSubscriptionResponses(subs []domain.Subscription) []subscriptionResponse {
	out := make([]subscriptionResponse, len(subs))
	for i, s := range subs {
		out[i] = toSubscriptionResponse(s)
	}
	return out
}

// schemaResponse is GET /schema's body.
type schemaResponse struct {
	Publishers    []string            `json:"publishers"`
	ResourceTypes map[string][]string `json:"resource_types"`
	Actions       []string            `json:"actions"`
}

// eventLogResponse is one row of GET /event-logs.
type eventLogResponse struct {
	ID           string          `json:"id"`
	Subject      string          `json:"subject"`
	Publisher    string          `json:"publisher"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	EmittedAt    time.Time       `json:"emitted_at"`
	LoggedAt     time.Time       `json:"logged_at"`
}

func toEventLogResponses(logs []domain.EventLog) []eventLogResponse {
	out := make([]eventLogResponse, len(logs))
	for i, l := range logs {
		out[i] = eventLogResponse{
			ID:           l.ID,
			Subject:      l.Subject,
			Publisher:    l.Publisher,
			ResourceType: l.ResourceType,
			ResourceID:   l.ResourceID,
			Action:       l.Action,
			Payload:      l.Payload,
			EmittedAt:    l.EmittedAt,
			LoggedAt:     l.LoggedAt,
		}
	}
	return out
}

// subscriptionEventLogResponse is one row of GET /subscriptions/:id/events.
type subscriptionEventLogResponse struct {
	ID                    string          `json:"id"`
	SubscriptionID        string          `json:"subscription_id"`
	Subject               string          `json:"subject"`
	CanonicalPayload      json.RawMessage `json:"canonical_payload"`
	GatePassed            *bool           `json:"gate_passed"`
	GateReason            string          `json:"gate_reason,omitempty"`
	WebhookSent           bool            `json:"webhook_sent"`
	WebhookResponseStatus *int            `json:"webhook_response_status,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

func toSubscriptionEventLogResponses(logs []domain.SubscriptionEventLog) []subscriptionEventLogResponse {
	out := make([]subscriptionEventLogResponse, len(logs))
	for i, l := range logs {
		out[i] = subscriptionEventLogResponse{
			ID:                    l.ID,
			SubscriptionID:        l.SubscriptionID,
			Subject:               l.Subject,
			CanonicalPayload:      l.CanonicalPayload,
			GatePassed:            l.GatePassed,
			GateReason:            l.GateReason,
			WebhookSent:           l.WebhookSent,
			WebhookResponseStatus: l.WebhookResponseStatus,
			CreatedAt:             l.CreatedAt,
		}
	}
	return out
}

// pageResponse wraps a list with the pagination parameters actually
// applied, so a caller can tell a short page from the last page.
type pageResponse struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Items any `json:"items"`
}
