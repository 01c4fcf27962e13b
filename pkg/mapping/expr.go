package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Expression is the mapping engine's declarative, purely-functional
// transform: a JSON object mapping canonical output fields to Rules that
// pull from or compute over the source payload. Kept as small as the
// five canonical fields require.
type Expression struct {
	Publisher    Rule  `json:"publisher"`
	ResourceType Rule  `json:"resource_type"`
	ResourceID   Rule  `json:"resource_id"`
	Action       Rule  `json:"action"`
	Summary      *Rule `json:"summary,omitempty"`
}

// Rule produces one scalar value from a payload. Exactly one of Const,
// Path, or Switch should be set; Path wins over Const, Switch over Path,
// if more than one is present.
type Rule struct {
	Const  string      `json:"const,omitempty"`
	Path   string      `json:"path,omitempty"`
	Switch *SwitchRule `json:"switch,omitempty"`
	Lower  bool        `json:"lower,omitempty"`
}

// SwitchRule maps the string value found at Path to one of Cases,
// falling back to Default (or the raw value, if Default is empty).
type SwitchRule struct {
	Path    string            `json:"path"`
	Cases   map[string]string `json:"cases"`
	Default string            `json:"default,omitempty"`
}

// CanonicalFields is the record an Expression evaluation produces, before
// type-coercion and validation turn it into a domain.CanonicalEvent.
type CanonicalFields struct {
	Publisher    string
	ResourceType string
	ResourceID   string
	Action       string
	Summary      string
	HasSummary   bool
}

// ParseExpression decodes a stored or synthesized expression string.
func ParseExpression(raw string) (*Expression, error) {
	var expr Expression
	if err := json.Unmarshal([]byte(raw), &expr); err != nil {
		return nil, fmt.Errorf("failed to parse transform expression: %w", err)
	}
	return &expr, nil
}

// Evaluate runs expr against payload, producing the five canonical fields.
// It never errors on missing data — Rules simply evaluate to an empty
// string, which field validation (in engine.go) then rejects as invalid.
func Evaluate(expr *Expression, payload []byte) (CanonicalFields, error) {
	parsed := gjson.ParseBytes(payload)

	var fields CanonicalFields
	fields.Publisher = evalRule(expr.Publisher, parsed)
	fields.ResourceType = evalRule(expr.ResourceType, parsed)
	fields.ResourceID = evalRule(expr.ResourceID, parsed)
	fields.Action = evalRule(expr.Action, parsed)
	if expr.Summary != nil {
		fields.Summary = evalRule(*expr.Summary, parsed)
		fields.HasSummary = fields.Summary != ""
	}
	return fields, nil
}

func evalRule(r Rule, parsed gjson.Result) string {
	var val string
	switch {
	case r.Switch != nil:
		key := parsed.Get(normalizePath(r.Switch.Path)).String()
		if mapped, ok := r.Switch.Cases[key]; ok {
			val = mapped
		} else if r.Switch.Default != "" {
			val = r.Switch.Default
		} else {
			val = key
		}
	case r.Path != "":
		result := parsed.Get(normalizePath(r.Path))
		if result.Exists() {
			val = result.String()
		}
	default:
		val = r.Const
	}
	if r.Lower {
		val = strings.ToLower(val)
	}
	return val
}

// CoerceResourceID renders a gjson-extracted resource id to its
// string-or-number wire form: integers lose any trailing ".0",
// everything else passes through as-is.
func CoerceResourceID(raw string) string {
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return raw
}
