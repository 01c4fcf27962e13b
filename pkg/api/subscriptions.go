// Subscription CRUD handlers.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/langhookd/langhookd/pkg/domain"
)

// createSubscriptionHandler handles POST /subscriptions. The subject
// filter pattern is always synthesized from description against the
// current schema registry — callers never supply one directly, since an
// operator-supplied pattern could reference schema tokens the registry
// hasn't discovered yet.
func (s *Server) createSubscriptionHandler(c *echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}
	channelType := domain.ChannelType(req.ChannelType)
	if channelType == "" {
		channelType = domain.ChannelNone
	}
	if channelType != domain.ChannelWebhook && channelType != domain.ChannelNone {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_type must be webhook or none")
	}
	if channelType == domain.ChannelWebhook && req.ChannelConfig["url"] == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_config.url is required for channel_type=webhook")
	}

	ctx := c.Request().Context()
	snapshot, err := s.store.LoadSchemaRegistry(ctx)
	if err != nil {
		return mapError(err)
	}

	pattern, err := s.llmBroker.SynthesizeSubjectFilter(ctx, req.Description, snapshot)
	if err != nil {
		return mapError(err)
	}

	sub := domain.Subscription{
		ID:            uuid.NewString(),
		SubscriberID:  req.SubscriberID,
		Description:   req.Description,
		Pattern:       pattern,
		ChannelType:   channelType,
		ChannelConfig: req.ChannelConfig,
		Gate:          req.Gate.toDomain(),
		Disposable:    req.Disposable,
		Active:        true,
		Used:          false,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return mapError(err)
	}
	if err := s.registry.Bind(ctx, sub); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
}

// listSubscriptionsHandler handles GET /subscriptions.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	subs, err := s.store.ListSubscriptions(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toSubscriptionResponses(subs))
}

// getSubscriptionHandler handles GET /subscriptions/:id.
func (s *Server) getSubscriptionHandler(c *echo.Context) error {
	sub, err := s.store.GetSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toSubscriptionResponse(*sub))
}

// updateSubscriptionHandler handles PATCH /subscriptions/:id. A Description
// that differs from the stored one resynthesizes the pattern and atomically
// rebinds the consumer to it. Channel/gate/disposable changes are persisted
// via UpdateSubscriptionFields and likewise rebind the running matcher so
// its in-memory copy never diverges from the stored row.
func (s *Server) updateSubscriptionHandler(c *echo.Context) error {
	id := c.Param("id")
	var req updateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return mapError(err)
	}

	rebind := false
	if req.Description != nil && *req.Description != sub.Description {
		snapshot, err := s.store.LoadSchemaRegistry(ctx)
		if err != nil {
			return mapError(err)
		}
		pattern, err := s.llmBroker.SynthesizeSubjectFilter(ctx, *req.Description, snapshot)
		if err != nil {
			return mapError(err)
		}
		sub.Description = *req.Description
		sub.Pattern = pattern
		if err := s.store.UpdateSubscriptionPattern(ctx, id, pattern); err != nil {
			return mapError(err)
		}
		rebind = true
	}
	fieldsChanged := false
	if req.ChannelType != nil {
		sub.ChannelType = domain.ChannelType(*req.ChannelType)
		fieldsChanged = true
	}
	if req.ChannelConfig != nil {
		sub.ChannelConfig = req.ChannelConfig
		fieldsChanged = true
	}
	if req.GateDisabled {
		sub.Gate = nil
		fieldsChanged = true
	} else if req.Gate != nil {
		sub.Gate = req.Gate.toDomain()
		fieldsChanged = true
	}
	if req.Disposable != nil {
		sub.Disposable = *req.Disposable
		fieldsChanged = true
	}
	if fieldsChanged {
		if err := s.store.UpdateSubscriptionFields(ctx, *sub); err != nil {
			return mapError(err)
		}
		rebind = true
	}
	if req.Active != nil && *req.Active != sub.Active {
		if err := s.store.SetSubscriptionActive(ctx, id, *req.Active); err != nil {
			return mapError(err)
		}
		sub.Active = *req.Active
		rebind = true
	}

	if rebind {
		if sub.Active {
			if err := s.registry.Rebind(ctx, *sub); err != nil {
				return mapError(err)
			}
		} else if err := s.registry.Unbind(ctx, id); err != nil {
			return mapError(err)
		}
	}

	return c.JSON(http.StatusOK, toSubscriptionResponse(*sub))
}

// deleteSubscriptionHandler handles DELETE /subscriptions/:id.
func (s *Server) deleteSubscriptionHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()
	if err := s.registry.Unbind(ctx, id); err != nil {
		return mapError(err)
	}
	if err := s.store.DeleteSubscription(ctx, id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
