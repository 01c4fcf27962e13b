package api

import "github.com/langhookd/langhookd/pkg/domain"

// createSubscriptionRequest is the POST /subscriptions body. pattern is
// never accepted from the caller — it is always synthesized from
// description against the current schema registry.
type createSubscriptionRequest struct {
	SubscriberID  string            `json:"subscriber_id"`
	Description   string            `json:"description"`
	ChannelType   string            `json:"channel_type"`
	ChannelConfig map[string]string `json:"channel_config"`
	Gate          *gateRequest      `json:"gate"`
	Disposable    bool              `json:"disposable"`
}

// updateSubscriptionRequest is the PATCH /subscriptions/:id body. Every
// field is a pointer so an absent key leaves that attribute untouched;
// a Description that differs from the stored one triggers pattern
// resynthesis and consumer rebind.
type updateSubscriptionRequest struct {
	Description   *string           `json:"description"`
	ChannelType   *string           `json:"channel_type"`
	ChannelConfig map[string]string `json:"channel_config"`
	Gate          *gateRequest      `json:"gate"`
	GateDisabled  bool              `json:"gate_disabled"`
	Disposable    *bool             `json:"disposable"`
	Active        *bool             `json:"active"`
}

type gateRequest struct {
	Prompt         string  `json:"prompt"`
	Threshold      float64 `json:"threshold"`
	Audit          bool    `json:"audit"`
	FailoverPolicy string  `json:"failover_policy"`
}

func (g *gateRequest) toDomain() *domain.Gate {
	if g == nil {
		return nil
	}
	policy := domain.FailoverPolicy(g.FailoverPolicy)
	if policy == "" {
		policy = domain.FailoverFailOpen
	}
	return &domain.Gate{
		Prompt:         g.Prompt,
		Threshold:      g.Threshold,
		Audit:          g.Audit,
		FailoverPolicy: policy,
	}
}
