package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/langhookd/langhookd/pkg/broker"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

// Registry holds one running matcher goroutine per active subscription,
// keyed by subscription id, so the API can start/stop/rebind a single
// subscription's consumer without disturbing any other. A registry of
// independently bindable matchers, rather than one shared consumer
// fanning out in memory, keeps per-subscription ordering trivial.
type Registry struct {
	client     *broker.Client
	store      *store.Store
	llmBroker  *llm.Broker
	dispatcher *WebhookDispatcher
	metrics    *metrics.Metrics
	cfg        broker.ConsumerConfig

	mu       sync.Mutex
	matchers map[string]*matcher
}

// NewRegistry builds an empty Registry. Call LoadActive at startup to bind
// every currently-active subscription.
func NewRegistry(client *broker.Client, st *store.Store, llmBroker *llm.Broker, m *metrics.Metrics, cfg broker.ConsumerConfig) *Registry {
	return &Registry{
		client:     client,
		store:      st,
		llmBroker:  llmBroker,
		dispatcher: NewWebhookDispatcher(),
		metrics:    m,
		cfg:        cfg,
		matchers:   make(map[string]*matcher),
	}
}

// LoadActive binds a matcher for every subscription the store reports
// active, used on startup so durable consumers resume exactly where they
// left off.
func (r *Registry) LoadActive(ctx context.Context) error {
	subs, err := r.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := r.Bind(ctx, sub); err != nil {
			slog.Error("failed to bind subscription on startup", "subscription_id", sub.ID, "error", err)
		}
	}
	return nil
}

// Bind starts a matcher goroutine for sub, replacing any matcher already
// running for the same subscription id.
func (r *Registry) Bind(ctx context.Context, sub domain.Subscription) error {
	mt, err := newMatcher(ctx, r.client, r.store, r.llmBroker, r.dispatcher, r.metrics, sub, r.cfg)
	if err != nil {
		return fmt.Errorf("failed to bind subscription %s: %w", sub.ID, err)
	}
	mt.onUnbind = func() { r.forget(sub.ID, mt) }

	r.mu.Lock()
	existing := r.matchers[sub.ID]
	r.matchers[sub.ID] = mt
	r.mu.Unlock()

	if existing != nil {
		existing.stop()
	}
	mt.start(ctx)
	return nil
}

// Rebind stops the running matcher for sub.ID (if any) and starts a fresh
// one against sub's current pattern — used when the Subscription API
// updates a subscription's pattern or gate.
func (r *Registry) Rebind(ctx context.Context, sub domain.Subscription) error {
	return r.Bind(ctx, sub)
}

// forget removes mt from the registry if it is still the current matcher
// for subscriptionID, so a disposable subscription's self-unbind doesn't
// clobber a matcher that Bind has since replaced it with.
func (r *Registry) forget(subscriptionID string, mt *matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matchers[subscriptionID] == mt {
		delete(r.matchers, subscriptionID)
	}
}

// Unbind stops the matcher for subscriptionID and removes its durable
// consumer registration, used on delete/deactivate.
func (r *Registry) Unbind(ctx context.Context, subscriptionID string) error {
	r.mu.Lock()
	mt, ok := r.matchers[subscriptionID]
	delete(r.matchers, subscriptionID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	mt.stop()
	return r.client.RemoveConsumer(ctx, domain.Subscription{ID: subscriptionID}.DurableName())
}

// ActiveCount reports how many matcher goroutines are currently bound, used
// by the health endpoint's consumer diagnostics.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matchers)
}

// StopAll stops every running matcher, used during graceful shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	matchers := make([]*matcher, 0, len(r.matchers))
	for _, mt := range r.matchers {
		matchers = append(matchers, mt)
	}
	r.matchers = make(map[string]*matcher)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, mt := range matchers {
		wg.Add(1)
		go func(mt *matcher) {
			defer wg.Done()
			mt.stop()
		}(mt)
	}
	wg.Wait()
}
