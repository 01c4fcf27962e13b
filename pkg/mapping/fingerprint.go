// Package mapping fingerprints a payload's structure, looks up or
// synthesizes the transform that turns it into a CanonicalEvent, and
// evaluates that transform. Synthesis is coalesced per fingerprint with
// golang.org/x/sync/singleflight.
package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// leafKind names a JSON leaf's type for fingerprinting purposes. Objects
// and arrays are containers, never leaves, but we also record their
// presence on the path so an empty object and an empty array fingerprint
// differently from each other and from a leaf at the same path.
type leafKind string

const (
	kindString leafKind = "string"
	kindNumber leafKind = "number"
	kindBool   leafKind = "boolean"
	kindNull   leafKind = "null"
	kindArray  leafKind = "array"
	kindObject leafKind = "object"
)

// Fingerprint computes the structural fingerprint of payload: a stable
// hash of the sorted multiset of (json-path, leaf-type) pairs. No leaf
// values contribute, only their shape.
func Fingerprint(payload []byte) (string, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("failed to parse payload for fingerprinting: %w", err)
	}
	pairs := walk("$", v, nil)
	return hashPairs(pairs), nil
}

// ExtendedFingerprint augments the structural fingerprint with the
// evaluated values of fieldExprs (gjson path expressions).
func ExtendedFingerprint(structural string, payload []byte, fieldExprs []string) string {
	parsed := gjson.ParseBytes(payload)
	h := sha256.New()
	h.Write([]byte(structural))
	for _, expr := range fieldExprs {
		h.Write([]byte{'|'})
		h.Write([]byte(normalizePath(expr)))
		h.Write([]byte{'='})
		h.Write([]byte(parsed.Get(normalizePath(expr)).String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type pathType struct {
	path string
	kind leafKind
}

func walk(path string, v any, out []pathType) []pathType {
	switch val := v.(type) {
	case map[string]any:
		out = append(out, pathType{path: path, kind: kindObject})
		for k, child := range val {
			out = walk(path+"."+k, child, out)
		}
	case []any:
		out = append(out, pathType{path: path, kind: kindArray})
		for i, child := range val {
			out = walk(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	case string:
		out = append(out, pathType{path: path, kind: kindString})
	case float64:
		out = append(out, pathType{path: path, kind: kindNumber})
	case bool:
		out = append(out, pathType{path: path, kind: kindBool})
	case nil:
		out = append(out, pathType{path: path, kind: kindNull})
	}
	return out
}

func hashPairs(pairs []pathType) string {
	tokens := make([]string, len(pairs))
	for i, p := range pairs {
		tokens[i] = p.path + ":" + string(p.kind)
	}
	sort.Strings(tokens)
	h := sha256.New()
	h.Write([]byte(strings.Join(tokens, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizePath strips the leading "$." or "$" some prompt/transform
// authors use from a jq-ish habit; gjson paths don't use that prefix.
func normalizePath(expr string) string {
	expr = strings.TrimPrefix(expr, "$.")
	expr = strings.TrimPrefix(expr, "$")
	return expr
}
