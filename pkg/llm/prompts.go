package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/store"
)

// PromptKind names one of the three bounded templates the Broker issues.
// Budget and metrics are both recorded per-kind.
type PromptKind string

const (
	PromptMappingSynthesis PromptKind = "mapping-synthesis"
	PromptSubjectFilter    PromptKind = "subject-filter-synthesis"
	PromptGateEvaluation   PromptKind = "gate-evaluation"
)

// mappingSynthesisPrompt asks the model for a JSON transform expression
// (pkg/mapping's Expression grammar) that maps sample_payload to the
// mandatory canonical fields.
func mappingSynthesisPrompt(publisher string, samplePayload []byte) string {
	return fmt.Sprintf(`You are configuring webhook canonicalization for publisher %q.

Given this sample payload, produce a JSON transform expression with the shape:
{"publisher": "<const>", "resource_type": {...rule...}, "resource_id": {...rule...}, "action": {...rule...}, "summary": {...rule...}}

Each rule is one of {"const": "<literal>"}, {"path": "<json.path>"}, {"path": "<json.path>", "lower": true},
or {"path": "<json.path>", "switch": {"cases": {"value": "mapped"}, "default": "mapped"}}.

Respond with the transform expression JSON only, no prose.

Sample payload:
%s`, publisher, samplePayload)
}

// subjectFilterPrompt asks the model for a broker subject filter string
// whose tokens are drawn from the current schema registry.
func subjectFilterPrompt(description string, snapshot *store.SchemaRegistrySnapshot) string {
	var sb strings.Builder
	sb.WriteString("Known schema (publisher / resource_type / action triples):\n")
	for _, t := range snapshot.Triples {
		fmt.Fprintf(&sb, "- %s / %s / %s\n", t.Publisher, t.ResourceType, t.Action)
	}
	return fmt.Sprintf(`A subscriber wants to receive events described as: %q

%s
Produce a single broker subject filter string of the form
"langhook.events.<publisher>.<resource_type>.<resource_id>.<action>" where any
token may be "*" (one token) or, as the final token only, ">" (rest of subject).
Every non-wildcard token must be drawn from the known schema above.

Respond with the subject filter string only, no prose.`, description, sb.String())
}

// gateEvaluationOutput is the decoded shape of a gate-evaluation completion.
type gateEvaluationOutput struct {
	Decision   bool    `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func gateEvaluationPrompt(prompt string, event domain.CanonicalEvent) (string, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical event for gate evaluation: %w", err)
	}
	return fmt.Sprintf(`Gate instructions: %s

Canonical event:
%s

Decide whether this event should pass the gate. Respond with JSON only:
{"decision": <bool>, "confidence": <0..1>, "reasoning": "<one sentence>"}`, prompt, eventJSON), nil
}
