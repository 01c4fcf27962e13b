package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
	"github.com/langhookd/langhookd/pkg/mapping"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
)

// defaultInputRatePer1K and defaultOutputRatePer1K are the flat per-1000-
// token USD estimates used for budget accounting. Real providers price by
// model; the budget is an estimate either way.
const (
	defaultInputRatePer1K  = 0.003
	defaultOutputRatePer1K = 0.015
)

// Broker owns the daily budget, dispatches the three bounded prompt
// kinds, and applies gate failover policy when the provider is
// unreachable or the budget is exhausted.
type Broker struct {
	provider Provider
	budget   *Budget
	gate     config.GateConfig
	metrics  *metrics.Metrics
}

// NewBroker wires a Broker against a completion Provider, its budget, and
// the configured daily cap/alert threshold.
func NewBroker(provider Provider, budget *Budget, gate config.GateConfig, m *metrics.Metrics) *Broker {
	return &Broker{provider: provider, budget: budget, gate: gate, metrics: m}
}

// checkBudget returns errs.BudgetExhausted if today's spend has already
// crossed the daily cap, before incurring the cost of a call that would
// be wasted.
func (b *Broker) checkBudget(ctx context.Context) error {
	spent, err := b.budget.Spent(ctx)
	if err != nil {
		return errs.New(errs.KindCacheUnavailable, "failed to read LLM budget", err)
	}
	if b.gate.DailyCostLimitUSD > 0 && spent >= b.gate.DailyCostLimitUSD {
		return errs.New(errs.KindBudgetExhausted, fmt.Sprintf("daily LLM budget of $%.2f exhausted", b.gate.DailyCostLimitUSD), nil)
	}
	return nil
}

// recordSpend accounts a completed call's estimated cost, logging a
// warning once spend crosses the configured alert threshold (a fraction
// of the daily cap).
func (b *Broker) recordSpend(ctx context.Context, kind PromptKind, usage Usage) {
	cost := EstimateCostUSD(usage, defaultInputRatePer1K, defaultOutputRatePer1K)
	total, err := b.budget.Add(ctx, cost)
	if err != nil {
		slog.Warn("failed to record LLM spend", "kind", kind, "error", err)
		return
	}
	b.metrics.SetLLMCostToday(total)
	alertUSD := b.gate.CostAlertThreshold * b.gate.DailyCostLimitUSD
	if alertUSD > 0 && total >= alertUSD {
		slog.Warn("LLM daily spend crossed alert threshold", "spent_usd", total, "threshold_usd", alertUSD)
	}
}

// complete runs one budgeted provider call, recording the invocation's
// outcome in metrics regardless of success.
func (b *Broker) complete(ctx context.Context, kind PromptKind, prompt string) (string, error) {
	if err := b.checkBudget(ctx); err != nil {
		b.metrics.IncLLMInvocation(string(kind), "budget-exhausted")
		return "", err
	}
	text, usage, err := b.provider.Complete(ctx, prompt)
	if err != nil {
		b.metrics.IncLLMInvocation(string(kind), "error")
		return "", errs.New(errs.KindLLMSynthesisFailed, fmt.Sprintf("%s call failed", kind), err)
	}
	b.recordSpend(ctx, kind, usage)
	b.metrics.IncLLMInvocation(string(kind), "ok")
	return text, nil
}

// SynthesizeMapping implements mapping.Synthesizer: it asks the model for
// a transform expression over the sample payload, validates it
// round-trips, and returns the raw event-field paths referenced so the
// mapping engine can compute an extended fingerprint.
func (b *Broker) SynthesizeMapping(ctx context.Context, publisher string, payload []byte) (string, []string, error) {
	text, err := b.complete(ctx, PromptMappingSynthesis, mappingSynthesisPrompt(publisher, payload))
	if err != nil {
		return "", nil, err
	}
	expr, err := mapping.ParseExpression(text)
	if err != nil {
		return "", nil, errs.New(errs.KindLLMSynthesisFailed, "synthesized mapping is not valid JSON", err)
	}
	if _, err := mapping.Evaluate(expr, payload); err != nil {
		return "", nil, errs.New(errs.KindLLMSynthesisFailed, "synthesized mapping failed to evaluate against the sample payload", err)
	}
	return text, fieldPaths(expr), nil
}

// fieldPaths collects every json-path an Expression reads from, so the
// mapping engine can fold them into an extended fingerprint.
func fieldPaths(expr *mapping.Expression) []string {
	var paths []string
	seen := map[string]bool{}
	add := func(r mapping.Rule) {
		if r.Path != "" && !seen[r.Path] {
			seen[r.Path] = true
			paths = append(paths, r.Path)
		}
		if r.Switch != nil && r.Switch.Path != "" && !seen[r.Switch.Path] {
			seen[r.Switch.Path] = true
			paths = append(paths, r.Switch.Path)
		}
	}
	add(expr.Publisher)
	add(expr.ResourceType)
	add(expr.ResourceID)
	add(expr.Action)
	if expr.Summary != nil {
		add(*expr.Summary)
	}
	return paths
}

var _ mapping.Synthesizer = (*Broker)(nil)

// SynthesizeSubjectFilter asks the model for a subject filter string over
// the current schema registry, rejecting any result that references a
// token the registry does not know.
func (b *Broker) SynthesizeSubjectFilter(ctx context.Context, description string, snapshot *store.SchemaRegistrySnapshot) (string, error) {
	text, err := b.complete(ctx, PromptSubjectFilter, subjectFilterPrompt(description, snapshot))
	if err != nil {
		return "", err
	}
	filter := strings.TrimSpace(text)
	if err := validateSubjectFilter(filter, snapshot); err != nil {
		return "", errs.New(errs.KindUnknownSchemaPattern, "synthesized subject filter references unknown schema", err)
	}
	return filter, nil
}

// validateSubjectFilter checks every non-wildcard token against the known
// publisher/resource-type/action vocabularies. It does not attempt to
// validate resource_id tokens, which are runtime values with no fixed
// vocabulary.
func validateSubjectFilter(filter string, snapshot *store.SchemaRegistrySnapshot) error {
	tokens := strings.Split(filter, ".")
	// A trailing ">" stands for every remaining token, so a shorter filter
	// ending in ">" is padded out to the six-token form before checking.
	if n := len(tokens); n >= 3 && n < 6 && tokens[n-1] == ">" {
		for len(tokens) < 6 {
			tokens = append(tokens, ">")
		}
	}
	if len(tokens) != 6 || tokens[0] != "langhook" || tokens[1] != "events" {
		return fmt.Errorf("filter %q does not match langhook.events.<publisher>.<resource_type>.<resource_id>.<action>", filter)
	}
	publisher, resourceType, _, action := tokens[2], tokens[3], tokens[4], tokens[5]

	knownPublishers := map[string]bool{}
	for _, p := range snapshot.Publishers {
		knownPublishers[p] = true
	}
	if publisher != "*" && publisher != ">" && !knownPublishers[publisher] {
		return fmt.Errorf("unknown publisher %q", publisher)
	}

	if resourceType != "*" && resourceType != ">" && publisher != "*" && publisher != ">" {
		known := false
		for _, rt := range snapshot.ResourceTypes[publisher] {
			if rt == resourceType {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown resource_type %q for publisher %q", resourceType, publisher)
		}
	}

	if action != "*" && action != ">" && publisher != "*" && publisher != ">" && resourceType != "*" && resourceType != ">" {
		known := false
		for _, t := range snapshot.Triples {
			if t.Publisher == publisher && t.ResourceType == resourceType && t.Action == action {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown action %q for %s/%s", action, publisher, resourceType)
		}
	}
	return nil
}

// GateResult is the outcome of EvaluateGate, including whether it was
// decided by an actual LLM call or by failover.
type GateResult struct {
	Passed bool
	Reason string
}

// EvaluateGate runs gate-evaluation for one canonical event, applying
// failoverPolicy if the provider is unreachable or the budget is
// exhausted.
func (b *Broker) EvaluateGate(ctx context.Context, prompt string, threshold float64, failoverPolicy domain.FailoverPolicy, event domain.CanonicalEvent) (GateResult, error) {
	promptText, err := gateEvaluationPrompt(prompt, event)
	if err != nil {
		return GateResult{}, err
	}

	text, err := b.complete(ctx, PromptGateEvaluation, promptText)
	if err != nil {
		kind, _ := errs.Of(err)
		if kind == errs.KindBudgetExhausted || kind == errs.KindLLMSynthesisFailed {
			return failoverResult(failoverPolicy), nil
		}
		return GateResult{}, err
	}

	var out gateEvaluationOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		slog.Warn("gate evaluation returned unparseable output, applying failover", "error", err)
		return failoverResult(failoverPolicy), nil
	}

	if !out.Decision {
		return GateResult{Passed: false, Reason: out.Reasoning}, nil
	}
	if out.Confidence < threshold {
		return GateResult{Passed: false, Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", out.Confidence, threshold)}, nil
	}
	return GateResult{Passed: true, Reason: out.Reasoning}, nil
}

func failoverResult(policy domain.FailoverPolicy) GateResult {
	if policy == domain.FailoverFailClosed {
		return GateResult{Passed: false, Reason: "llm-unavailable:fail_closed"}
	}
	return GateResult{Passed: true, Reason: "llm-unavailable:fail_open"}
}
