package broker

import (
	"context"
	"time"
)

// Message is an immutable entry in the broker's log, shared across every
// durable consumer whose pattern matches its subject.
type Message struct {
	ID        int64
	Stream    string
	Subject   string
	Headers   map[string]string
	Body      []byte
	CreatedAt time.Time
}

// Delivery is one durable consumer's claim on a Message. Ack or Nak must be
// called exactly once to settle the underlying delivery row.
type Delivery struct {
	Message  Message
	Attempts int

	ack func(ctx context.Context) error
	nak func(ctx context.Context) error
}

// Ack marks the delivery as processed. It will not be redelivered.
func (d *Delivery) Ack(ctx context.Context) error { return d.ack(ctx) }

// Nak releases the delivery immediately for redelivery, skipping the lease
// timeout. Used when a handler knows upfront that a retry is appropriate
// (e.g. a transient store error) rather than waiting out the full lease.
func (d *Delivery) Nak(ctx context.Context) error { return d.nak(ctx) }
