// Package mapworker drains the raw.* stream, resolves or synthesizes a
// canonicalization mapping for each event, and republishes onto the
// canonical subject space.
package mapworker

import "strings"

// DeriveSubject builds the canonical-event subject
// "langhook.events.{publisher}.{resource_type}.{resource_id}.{action}"
// as a pure function of its four inputs: every token is lowercased, and
// any separator character inside a token is replaced so the result never
// contains a stray "." boundary.
func DeriveSubject(publisher, resourceType, resourceID, action string) string {
	return strings.Join([]string{
		"langhook",
		"events",
		sanitizeToken(publisher),
		sanitizeToken(resourceType),
		sanitizeToken(resourceID),
		sanitizeToken(action),
	}, ".")
}

// sanitizeToken lowercases a token and replaces any internal "." with "_"
// so it can never be mistaken for a subject separator.
func sanitizeToken(tok string) string {
	tok = strings.ToLower(tok)
	return strings.ReplaceAll(tok, ".", "_")
}
