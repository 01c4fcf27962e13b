package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/langhookd/langhookd/pkg/domain"
	"github.com/langhookd/langhookd/pkg/errs"
	"github.com/langhookd/langhookd/pkg/store"
)

// Synthesizer is the narrow slice of the LLM broker the engine needs:
// turning a sample payload into a transform expression. Kept as an
// interface here (rather than importing pkg/llm directly) so pkg/mapping
// stays a leaf package.
type Synthesizer interface {
	SynthesizeMapping(ctx context.Context, publisher string, payload []byte) (expression string, eventFieldExpressions []string, err error)
}

// Engine resolves payloads to canonical fields through stored mappings.
type Engine struct {
	store *store.Store
	llm   Synthesizer
	sf    singleflight.Group
	now   func() time.Time
}

// NewEngine wires a Mapping Engine against the Registry Store and LLM
// Broker. now is injectable for tests; production callers pass time.Now.
func NewEngine(st *store.Store, llm Synthesizer, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: st, llm: llm, now: now}
}

// Map turns a raw payload into canonical fields, synthesizing and
// persisting a new mapping on first encounter of a structural shape, and
// resynthesizing in place if a previously-stored transform no longer
// evaluates cleanly.
func (e *Engine) Map(ctx context.Context, publisher string, payload []byte) (CanonicalFields, error) {
	structuralFP, err := Fingerprint(payload)
	if err != nil {
		return CanonicalFields{}, errs.Newf(errs.KindInvalidCanonical, err, "failed to fingerprint payload")
	}

	m, err := e.store.GetMapping(ctx, structuralFP)
	switch {
	case errors.Is(err, errs.NotFound):
		m, err = e.synthesizeAndStore(ctx, structuralFP, publisher, payload)
		if err != nil {
			return CanonicalFields{}, err
		}
	case err != nil:
		return CanonicalFields{}, errs.New(errs.KindStoreUnavailable, "failed to look up mapping", err)
	default:
		m, err = e.resolveExtended(ctx, m, structuralFP, payload)
		if err != nil {
			return CanonicalFields{}, err
		}
	}

	fields, evalErr := e.evaluate(m.Expression, payload)
	if evalErr == nil {
		if verr := validate(fields); verr == nil {
			return fields, nil
		} else {
			evalErr = verr
		}
	}

	// The stored transform no longer produces a valid canonical record.
	// Resynthesize in place; a failure here is terminal for this message
	// and the stored row keeps its old expression.
	resynth, _, synthErr := e.llm.SynthesizeMapping(ctx, publisher, payload)
	if synthErr != nil {
		return CanonicalFields{}, errs.New(errs.KindLLMSynthesisFailed, "resynthesis failed after stored mapping became invalid", synthErr)
	}
	fields, evalErr = e.evaluateAndValidate(resynth, payload)
	if evalErr != nil {
		return CanonicalFields{}, errs.New(errs.KindInvalidCanonical, "resynthesized mapping also failed validation", evalErr)
	}
	if err := e.store.UpdateMappingExpression(ctx, structuralFP, resynth, nil); err != nil {
		return CanonicalFields{}, errs.New(errs.KindStoreUnavailable, "failed to persist resynthesized mapping", err)
	}
	return fields, nil
}

// resolveExtended: if the structural mapping carries event-field
// expressions, recompute the extended fingerprint and prefer a mapping
// stored under that more specific key.
func (e *Engine) resolveExtended(ctx context.Context, m *domain.IngestMapping, structuralFP string, payload []byte) (*domain.IngestMapping, error) {
	if len(m.EventFieldExpressions) == 0 {
		return m, nil
	}
	extFP := ExtendedFingerprint(structuralFP, payload, m.EventFieldExpressions)
	if extFP == structuralFP {
		return m, nil
	}
	extended, err := e.store.GetMapping(ctx, extFP)
	if err == nil {
		return extended, nil
	}
	if errors.Is(err, errs.NotFound) {
		return m, nil
	}
	return nil, errs.New(errs.KindStoreUnavailable, "failed to look up extended mapping", err)
}

// synthesizeAndStore coalesces concurrent synthesis requests for the same
// fingerprint onto one in-flight LLM call. A failed synthesis is never
// cached: the singleflight group only remembers the call while it's in
// flight.
func (e *Engine) synthesizeAndStore(ctx context.Context, fingerprint, publisher string, payload []byte) (*domain.IngestMapping, error) {
	v, err, _ := e.sf.Do(fingerprint, func() (any, error) {
		expression, fieldExprs, err := e.llm.SynthesizeMapping(ctx, publisher, payload)
		if err != nil {
			return nil, errs.New(errs.KindLLMSynthesisFailed, "mapping synthesis failed", err)
		}
		if _, verr := e.evaluateAndValidate(expression, payload); verr != nil {
			return nil, errs.New(errs.KindLLMSynthesisFailed, "synthesized mapping failed round-trip validation", verr)
		}
		now := e.now().UTC()
		m := domain.IngestMapping{
			Fingerprint:           fingerprint,
			Publisher:             publisher,
			Expression:            expression,
			EventFieldExpressions: fieldExprs,
			Source:                domain.MappingSourceSynthesized,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := e.store.CreateMapping(ctx, m); err != nil {
			return nil, errs.New(errs.KindStoreUnavailable, "failed to persist synthesized mapping", err)
		}
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.IngestMapping), nil
}

func (e *Engine) evaluate(exprRaw string, payload []byte) (CanonicalFields, error) {
	expr, err := ParseExpression(exprRaw)
	if err != nil {
		return CanonicalFields{}, err
	}
	return Evaluate(expr, payload)
}

func (e *Engine) evaluateAndValidate(exprRaw string, payload []byte) (CanonicalFields, error) {
	fields, err := e.evaluate(exprRaw, payload)
	if err != nil {
		return CanonicalFields{}, err
	}
	if err := validate(fields); err != nil {
		return CanonicalFields{}, err
	}
	return fields, nil
}

// validate rejects a CanonicalFields that is missing a mandatory field.
func validate(f CanonicalFields) error {
	var missing []string
	if f.Publisher == "" {
		missing = append(missing, "publisher")
	}
	if f.ResourceType == "" {
		missing = append(missing, "resource.type")
	}
	if f.ResourceID == "" {
		missing = append(missing, "resource.id")
	}
	if f.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing mandatory canonical field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
