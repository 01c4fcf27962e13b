package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

// matcher binds one durable consumer to one subscription's pattern on the
// canonical stream and runs its receive/gate/dispatch/log/ack loop on a
// single goroutine, so deliveries for that subscription are always
// processed in order. One goroutine owns one subscription's consumer —
// per-subscription ordering, not throughput, is what matters here.
type matcher struct {
	sub        domain.Subscription
	consumer   *broker.Consumer
	client     *broker.Client
	store      *store.Store
	llmBroker  *llm.Broker
	dispatcher *WebhookDispatcher
	metrics    *metrics.Metrics

	cancel   context.CancelFunc
	done     chan struct{}
	onUnbind func()
}

func newMatcher(ctx context.Context, client *broker.Client, st *store.Store, llmBroker *llm.Broker, dispatcher *WebhookDispatcher, m *metrics.Metrics, sub domain.Subscription, cfg broker.ConsumerConfig) (*matcher, error) {
	consumer, err := client.EnsureConsumer(ctx, sub.DurableName(), "canonical", sub.Pattern, cfg)
	if err != nil {
		return nil, err
	}
	return &matcher{
		sub:        sub,
		consumer:   consumer,
		client:     client,
		store:      st,
		llmBroker:  llmBroker,
		dispatcher: dispatcher,
		metrics:    m,
		done:       make(chan struct{}),
	}, nil
}

func (mt *matcher) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	mt.cancel = cancel
	go mt.run(ctx)
}

// stop signals the matcher's goroutine to exit and waits for it. It does
// not unbind the durable consumer — callers that want that call
// client.RemoveConsumer separately (Registry.Unbind does this).
func (mt *matcher) stop() {
	if mt.cancel != nil {
		mt.cancel()
	}
	<-mt.done
}

func (mt *matcher) run(ctx context.Context) {
	defer close(mt.done)
	defer mt.consumer.Close()
	log := slog.With("subscription_id", mt.sub.ID, "pattern", mt.sub.Pattern)
	for {
		delivery, err := mt.consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error("failed to claim next delivery", "error", err)
			continue
		}
		if unbound := mt.process(ctx, log, delivery); unbound {
			if mt.onUnbind != nil {
				mt.onUnbind()
			}
			return
		}
	}
}

// process handles one canonical event delivery. It returns true if the
// subscription was a disposable one that has now been used, signaling the
// caller to stop polling. process removes the durable consumer
// registration itself; the Registry only drops this matcher from its map.
func (mt *matcher) process(ctx context.Context, log *slog.Logger, delivery *broker.Delivery) (unbound bool) {
	var event domain.CanonicalEvent
	if err := json.Unmarshal(delivery.Message.Body, &event); err != nil {
		log.Error("failed to unmarshal canonical event, dropping", "error", err)
		_ = delivery.Ack(ctx)
		return false
	}
	log = log.With("canonical_event_id", event.ID, "subject", delivery.Message.Subject)

	var gatePassed *bool
	var gateReason string
	if mt.sub.Gate != nil {
		start := time.Now()
		result, err := mt.llmBroker.EvaluateGate(ctx, mt.sub.Gate.Prompt, mt.sub.Gate.Threshold, mt.sub.Gate.FailoverPolicy, event)
		mt.metrics.ObserveGateLatency(time.Since(start))
		if err != nil {
			log.Warn("gate evaluation failed transiently, will redeliver", "error", err)
			_ = delivery.Nak(ctx)
			return false
		}
		passed := result.Passed
		gatePassed = &passed
		gateReason = result.Reason
		if passed {
			mt.metrics.IncGateDecision("pass")
		} else {
			mt.metrics.IncGateDecision("block")
		}
	}

	dispatched := gatePassed == nil || *gatePassed
	var webhookSent bool
	var webhookStatus *int
	if dispatched {
		switch mt.sub.ChannelType {
		case domain.ChannelWebhook:
			result := mt.dispatcher.Dispatch(ctx, mt.sub.ChannelConfig["url"], delivery.Message.Body)
			webhookSent = result.Sent
			webhookStatus = result.ResponseStatus
			if webhookSent {
				mt.metrics.IncWebhookDelivery("ok")
			} else {
				mt.metrics.IncWebhookDelivery("failed")
				deliveryErr := errs.New(errs.KindChannelDeliveryFailed, "webhook POST exhausted retries", nil)
				if webhookStatus != nil {
					log.Warn("webhook delivery failed", "error", deliveryErr, "last_status", *webhookStatus)
				} else {
					log.Warn("webhook delivery failed", "error", deliveryErr)
				}
			}
		case domain.ChannelNone:
			log.Info("canonical event matched subscription with no channel, logged only")
		}
	}

	logRow := domain.SubscriptionEventLog{
		ID:                    uuid.NewString(),
		SubscriptionID:        mt.sub.ID,
		Subject:               delivery.Message.Subject,
		CanonicalPayload:      event.Payload,
		GatePassed:            gatePassed,
		GateReason:            gateReason,
		WebhookSent:           webhookSent,
		WebhookResponseStatus: webhookStatus,
	}
	if err := mt.store.AppendSubscriptionEventLog(ctx, logRow); err != nil {
		log.Warn("failed to append subscription event log, will redeliver", "error", err)
		_ = delivery.Nak(ctx)
		return false
	}

	if mt.sub.Disposable && dispatched {
		if err := mt.store.MarkSubscriptionUsed(ctx, mt.sub.ID); err != nil {
			if errors.Is(err, errs.AlreadyUsed) {
				// Another delivery already consumed this disposable
				// subscription (can happen if a prior attempt marked it
				// used but crashed before unbinding). Ack and unbind.
				_ = delivery.Ack(ctx)
				if err := mt.client.RemoveConsumer(ctx, mt.sub.DurableName()); err != nil {
					log.Warn("failed to remove consumer for used disposable subscription", "error", err)
				}
				return true
			}
			log.Warn("failed to mark disposable subscription used, will redeliver", "error", err)
			_ = delivery.Nak(ctx)
			return false
		}
		_ = delivery.Ack(ctx)
		if err := mt.client.RemoveConsumer(ctx, mt.sub.DurableName()); err != nil {
			log.Warn("failed to remove consumer for used disposable subscription", "error", err)
		}
		return true
	}

	_ = delivery.Ack(ctx)
	return false
}
