package domain

import "context"

// CorrelationMessage is one payload routed through the channel for a token.
type CorrelationMessage struct {
	Token   string
	Payload []byte
}

// CorrelationChannel is the only coupling between processes: a publish/
// subscribe medium keyed by opaque correlation tokens. Delivery is
// at-least-once fan-out to current subscribers; a publish with no live
// subscriber is lost, which is fine because waiters carry their own
// timeout-and-retry semantics. Never used as durable storage.
type CorrelationChannel interface {
	Publish(ctx context.Context, token string, payload []byte) error

	// Subscribe registers a waiter for a token. The returned cancel func
	// must be called to release the subscription; the message channel is
	// closed afterwards.
	Subscribe(ctx context.Context, token string) (<-chan CorrelationMessage, func(), error)
}
