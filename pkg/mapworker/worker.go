package mapworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
	"github.com/langhookd/langhookd/pkg/mapping"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

// DurableName is the shared durable consumer name for the map-worker pool.
// Every worker goroutine claims from the same durable consumer, so the
// pool behaves as one consumer group.
const DurableName = "map-worker"

// Pool runs a configurable number of goroutines draining raw.* and
// producing canonical events.
type Pool struct {
	client  *broker.Client
	store   *store.Store
	engine  *mapping.Engine
	cfg     *config.Config
	metrics *metrics.Metrics

	consumer *broker.Consumer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPool registers the shared durable consumer on stream "raw" with
// filter "raw.>" and returns a Pool ready to Start.
func NewPool(ctx context.Context, client *broker.Client, st *store.Store, engine *mapping.Engine, cfg *config.Config, m *metrics.Metrics) (*Pool, error) {
	consumerCfg := broker.ConsumerConfig{
		LeaseDuration:      cfg.Worker.LeaseDuration,
		PollInterval:       cfg.Worker.PollInterval,
		PollIntervalJitter: cfg.Worker.PollIntervalJitter,
		ClaimBatchSize:     20,
	}
	consumer, err := client.EnsureConsumer(ctx, DurableName, "raw", "raw.>", consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to register map worker consumer: %w", err)
	}
	return &Pool{client: client, store: st, engine: engine, cfg: cfg, metrics: m, consumer: consumer}, nil
}

// Start launches cfg.Worker.MapWorkerCount goroutines, each independently
// polling the shared consumer. Start returns immediately; Stop blocks
// until every goroutine has exited.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Worker.MapWorkerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals every worker goroutine to finish its in-flight delivery and
// exit, then waits and releases the consumer's listen connection.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.consumer.Close()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("worker", "map", "id", id)
	for {
		delivery, err := p.consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error("failed to claim next delivery", "error", err)
			continue
		}
		p.process(ctx, log, delivery)
	}
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, delivery *broker.Delivery) {
	start := time.Now()

	var raw domain.RawEvent
	if err := json.Unmarshal(delivery.Message.Body, &raw); err != nil {
		log.Error("failed to unmarshal raw event, dropping", "error", err)
		_ = delivery.Ack(ctx)
		return
	}
	log = log.With("raw_event_id", raw.ID, "source", raw.Source)

	fields, err := p.engine.Map(ctx, raw.Source, raw.Payload)
	if err != nil {
		kind, _ := errs.Of(err)
		switch kind {
		case errs.KindMappingMissing, errs.KindInvalidCanonical, errs.KindLLMSynthesisFailed:
			p.deadLetter(ctx, log, raw, err)
			p.metrics.IncEventsFailed(raw.Source, string(kind))
			_ = delivery.Ack(ctx)
		default:
			log.Warn("transient failure mapping event, will redeliver", "error", err)
			_ = delivery.Nak(ctx)
		}
		return
	}

	resourceID := mapping.CoerceResourceID(fields.ResourceID)
	canonical := domain.CanonicalEvent{
		ID:        raw.ID,
		Timestamp: raw.ReceivedAt,
		Publisher: fields.Publisher,
		Resource:  domain.Resource{Type: fields.ResourceType, ID: domain.NewResourceID(resourceID)},
		Action:    fields.Action,
		Payload:   raw.Payload,
	}
	if fields.HasSummary {
		canonical.Summary = fields.Summary
	}

	canonicalJSON, err := json.Marshal(canonical)
	if err != nil {
		log.Error("failed to marshal canonical event, dropping", "error", err)
		_ = delivery.Ack(ctx)
		return
	}

	subject := DeriveSubject(canonical.Publisher, canonical.Resource.Type, canonical.Resource.ID.String(), canonical.Action)
	if err := p.client.Publish(ctx, "canonical", subject, nil, canonicalJSON); err != nil {
		log.Warn("failed to publish canonical event, will redeliver", "error", err)
		_ = delivery.Nak(ctx)
		return
	}

	// Schema registration happens after the canonical publish and before
	// optional event logging, so schema lag is bounded to one hop. A
	// registry failure is logged but never fails the message — the triple
	// will be re-registered on the next occurrence.
	if err := p.store.UpsertSchemaTriple(ctx, canonical.Publisher, canonical.Resource.Type, canonical.Action); err != nil {
		log.Warn("failed to upsert schema triple", "error", err)
	}

	if p.cfg.EventLoggingEnabled {
		logRow := domain.EventLog{
			ID:           uuid.NewString(),
			Subject:      subject,
			Publisher:    canonical.Publisher,
			ResourceType: canonical.Resource.Type,
			ResourceID:   canonical.Resource.ID.String(),
			Action:       canonical.Action,
			Payload:      raw.Payload,
			EmittedAt:    canonical.Timestamp,
		}
		if err := p.store.AppendEventLog(ctx, logRow); err != nil {
			log.Warn("failed to append event log", "error", err)
		}
	}

	p.metrics.IncEventsProcessed(raw.Source)
	p.metrics.IncEventsMapped(canonical.Publisher)
	p.metrics.ObserveMapLatency(time.Since(start))

	if err := delivery.Ack(ctx); err != nil {
		log.Error("failed to ack delivery", "error", err)
	}
}

// deadLetter publishes the original raw payload and the failure reason
// onto dlq.map.{source}.
func (p *Pool) deadLetter(ctx context.Context, log *slog.Logger, raw domain.RawEvent, cause error) {
	entry := struct {
		RawEventID string `json:"raw_event_id"`
		Source     string `json:"source"`
		Error      string `json:"error"`
		Payload    []byte `json:"payload"`
	}{RawEventID: raw.ID, Source: raw.Source, Error: cause.Error(), Payload: raw.Payload}

	body, err := json.Marshal(entry)
	if err != nil {
		log.Error("failed to marshal DLQ entry", "error", err)
		return
	}
	if err := p.client.Publish(ctx, "dlq", "dlq.map."+raw.Source, nil, body); err != nil {
		log.Error("failed to publish to map DLQ", "error", err)
	}
}
