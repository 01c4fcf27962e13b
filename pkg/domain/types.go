// Package domain holds the data model shared across the pipeline: the
// RawEvent/CanonicalEvent shapes, the persisted rows, and the small value
// types (Resource, Gate) embedded in them.
package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// ResourceID is a canonical event's resource.id, a string-or-number sum
// type: MarshalJSON emits a bare JSON number when the value is numeric
// and a quoted string otherwise, so the wire shape matches whichever form
// the source payload actually carried.
type ResourceID struct {
	value    string
	isNumber bool
}

// NewResourceID builds a ResourceID from its normalized textual form,
// tagging it numeric when it parses as a base-10 integer.
func NewResourceID(s string) ResourceID {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ResourceID{value: s, isNumber: true}
	}
	return ResourceID{value: s}
}

// String returns the id's textual form regardless of tag.
func (r ResourceID) String() string { return r.value }

func (r ResourceID) MarshalJSON() ([]byte, error) {
	if r.isNumber {
		return []byte(r.value), nil
	}
	return json.Marshal(r.value)
}

func (r *ResourceID) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		r.value = num.String()
		r.isNumber = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.value = s
	r.isNumber = false
	return nil
}

// Resource identifies the entity a canonical event is about.
type Resource struct {
	Type string     `json:"type"`
	ID   ResourceID `json:"id"`
}

// RawEvent is produced by the ingest handler and consumed by the map
// worker. Never persisted directly — it travels as a broker message body;
// the map worker acks it after canonicalization or a DLQ write.
type RawEvent struct {
	ID             string            `json:"id"`
	ReceivedAt     time.Time         `json:"received_at"`
	Source         string            `json:"source"`
	Headers        map[string]string `json:"headers"`
	SignatureValid bool              `json:"signature_valid"`
	Payload        json.RawMessage   `json:"payload"`
}

// CanonicalEvent is the pipeline's normalized output.
type CanonicalEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Publisher string          `json:"publisher"`
	Resource  Resource        `json:"resource"`
	Action    string          `json:"action"`
	Summary   string          `json:"summary,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MappingSource distinguishes operator-authored mappings from
// LLM-synthesized ones.
type MappingSource string

const (
	MappingSourceBuiltin     MappingSource = "builtin"
	MappingSourceSynthesized MappingSource = "synthesized"
)

// IngestMapping is a persisted canonicalization transform, keyed by
// structural fingerprint.
type IngestMapping struct {
	Fingerprint           string
	Publisher             string
	Expression            string
	EventFieldExpressions []string
	Source                MappingSource
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SchemaTriple is one discovered (publisher, resource_type, action)
// combination.
type SchemaTriple struct {
	Publisher    string
	ResourceType string
	Action       string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// FailoverPolicy governs gate behavior when the LLM is unreachable or over
// budget.
type FailoverPolicy string

const (
	FailoverFailOpen   FailoverPolicy = "fail_open"
	FailoverFailClosed FailoverPolicy = "fail_closed"
)

// Gate configures LLM-assisted filtering for a subscription. A nil *Gate on
// Subscription means gating is disabled.
type Gate struct {
	Prompt         string         `json:"prompt"`
	Threshold      float64        `json:"threshold"`
	Audit          bool           `json:"audit"`
	FailoverPolicy FailoverPolicy `json:"failover_policy"`
}

// ChannelType is how a subscription receives matched events.
type ChannelType string

const (
	ChannelWebhook ChannelType = "webhook"
	ChannelNone    ChannelType = "none"
)

// Subscription is a bound consumer over the broker's subject space.
type Subscription struct {
	ID            string
	SubscriberID  string
	Description   string
	Pattern       string
	ChannelType   ChannelType
	ChannelConfig map[string]string
	Gate          *Gate
	Disposable    bool
	Active        bool
	Used          bool
	CreatedAt     time.Time
}

// DurableName is the broker consumer name bound to this subscription.
func (s Subscription) DurableName() string {
	return "sub-" + s.ID
}

// EventLog is one optional row per emitted canonical event.
type EventLog struct {
	ID           string
	Subject      string
	Publisher    string
	ResourceType string
	ResourceID   string
	Action       string
	Payload      json.RawMessage
	EmittedAt    time.Time
	LoggedAt     time.Time
}

// GatePassed is the tri-state outcome of gate evaluation: nil means the
// subscription had no gate configured.
type GatePassed *bool

// SubscriptionEventLog is one row per (subscription, event) observation.
type SubscriptionEventLog struct {
	ID                    string
	SubscriptionID        string
	Subject               string
	CanonicalPayload      json.RawMessage
	GatePassed            *bool
	GateReason            string
	WebhookSent           bool
	WebhookResponseStatus *int
	CreatedAt             time.Time
}
