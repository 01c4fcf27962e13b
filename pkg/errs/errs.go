// Package errs enumerates the error kinds the pipeline can surface, from
// ingress validation failures through broker/store/cache connectivity
// problems to budget and gating outcomes. Components return these kinds
// (wrapped with context) rather than ad-hoc errors so the HTTP layer and
// the worker loops can dispatch on them with errors.Is/errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, loggable identifier for an error condition.
type Kind string

const (
	KindInvalidJSON           Kind = "invalid-json"
	KindBodyTooLarge          Kind = "body-too-large"
	KindRateLimited           Kind = "rate-limited"
	KindInvalidSignature      Kind = "invalid-signature"
	KindMappingMissing        Kind = "mapping-missing"
	KindInvalidCanonical      Kind = "mapping-yielded-invalid-canonical"
	KindLLMSynthesisFailed    Kind = "llm-synthesis-failed"
	KindBrokerUnavailable     Kind = "broker-unavailable"
	KindStoreUnavailable      Kind = "store-unavailable"
	KindCacheUnavailable      Kind = "cache-unavailable"
	KindBudgetExhausted       Kind = "budget-exhausted"
	KindUnknownSchemaPattern  Kind = "subscription-pattern-unknown-schema"
	KindChannelDeliveryFailed Kind = "channel-delivery-failed"
)

// Error pairs a Kind with a message and optional wrapped cause. Components
// construct these via the New* helpers; callers dispatch with errors.Is
// against the Kind sentinels below or with Of.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against a bare Kind sentinel so callers can write
// errors.Is(err, errs.RateLimited) without caring about the message.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	if !ok {
		return false
	}
	return k.Kind == e.Kind && k.Msg == "" && k.Err == nil
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// sentinel instances usable with errors.Is: errors.Is(err, errs.RateLimited)
var (
	InvalidJSON           = &Error{Kind: KindInvalidJSON}
	BodyTooLarge          = &Error{Kind: KindBodyTooLarge}
	RateLimited           = &Error{Kind: KindRateLimited}
	InvalidSignature      = &Error{Kind: KindInvalidSignature}
	MappingMissing        = &Error{Kind: KindMappingMissing}
	InvalidCanonical      = &Error{Kind: KindInvalidCanonical}
	LLMSynthesisFailed    = &Error{Kind: KindLLMSynthesisFailed}
	BrokerUnavailable     = &Error{Kind: KindBrokerUnavailable}
	StoreUnavailable      = &Error{Kind: KindStoreUnavailable}
	CacheUnavailable      = &Error{Kind: KindCacheUnavailable}
	BudgetExhausted       = &Error{Kind: KindBudgetExhausted}
	UnknownSchemaPattern  = &Error{Kind: KindUnknownSchemaPattern}
	ChannelDeliveryFailed = &Error{Kind: KindChannelDeliveryFailed}
)

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// NotFound is distinct from the Kind enumeration above: it is a plain
// sentinel for "no row", used by the store layer and mapped to HTTP 404
// at the API boundary.
var NotFound = errors.New("not found")

// AlreadyUsed indicates a compare-and-set on a disposable subscription
// lost the race (another delivery already consumed it).
var AlreadyUsed = errors.New("subscription already used")
