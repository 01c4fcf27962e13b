package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/metrics"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, Usage, error) {
	if f.err != nil {
		return "", Usage{}, f.err
	}
	return f.text, Usage{InputTokens: 10, OutputTokens: 10}, nil
}

func newTestBroker(t *testing.T, provider Provider, gate config.GateConfig) *Broker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	budget := NewBudget(client, func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) })
	return NewBroker(provider, budget, gate, metrics.New())
}

func TestEvaluateGate_PassesAboveThreshold(t *testing.T) {
	provider := &fakeProvider{text: `{"decision":true,"confidence":0.9,"reasoning":"matches"}`}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 100})

	result, err := broker.EvaluateGate(context.Background(), "gate on urgent issues", 0.5, domain.FailoverFailOpen, domain.CanonicalEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Fatalf("expected gate to pass, got %+v", result)
	}
}

func TestEvaluateGate_BlocksBelowThreshold(t *testing.T) {
	provider := &fakeProvider{text: `{"decision":true,"confidence":0.2,"reasoning":"weak match"}`}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 100})

	result, err := broker.EvaluateGate(context.Background(), "gate", 0.5, domain.FailoverFailOpen, domain.CanonicalEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatalf("expected gate to block on low confidence, got %+v", result)
	}
}

func TestEvaluateGate_FailOpenOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 100})

	result, err := broker.EvaluateGate(context.Background(), "gate", 0.5, domain.FailoverFailOpen, domain.CanonicalEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed || result.Reason != "llm-unavailable:fail_open" {
		t.Fatalf("expected fail-open pass, got %+v", result)
	}
}

func TestEvaluateGate_FailClosedOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 100})

	result, err := broker.EvaluateGate(context.Background(), "gate", 0.5, domain.FailoverFailClosed, domain.CanonicalEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed || result.Reason != "llm-unavailable:fail_closed" {
		t.Fatalf("expected fail-closed block, got %+v", result)
	}
}

func TestEvaluateGate_FailoverWhenBudgetExhausted(t *testing.T) {
	provider := &fakeProvider{text: `{"decision":true,"confidence":0.9,"reasoning":"matches"}`}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 0.0000001})
	// Force the pre-check to already consider the budget exhausted.
	if _, err := broker.budget.Add(context.Background(), 1.0); err != nil {
		t.Fatal(err)
	}

	result, err := broker.EvaluateGate(context.Background(), "gate", 0.5, domain.FailoverFailClosed, domain.CanonicalEvent{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatalf("expected fail-closed block on budget exhaustion, got %+v", result)
	}
}

func TestSynthesizeMapping_RejectsInvalidJSON(t *testing.T) {
	provider := &fakeProvider{text: "not json"}
	broker := newTestBroker(t, provider, config.GateConfig{DailyCostLimitUSD: 100})

	_, _, err := broker.SynthesizeMapping(context.Background(), "github", []byte(`{"action":"opened"}`))
	if err == nil {
		t.Fatal("expected an error for non-JSON synthesis output")
	}
}
