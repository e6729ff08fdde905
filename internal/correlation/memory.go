package correlation

import (
	"context"
	"sync"

	"github.com/auxilia-ai/auxilia/pkg/domain"
)

// MemoryChannel is the in-process CorrelationChannel used by tests and
// single-node deployments. Fan-out goes to current subscribers only.
type MemoryChannel struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan domain.CorrelationMessage
	nextID int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		subs: make(map[string]map[int]chan domain.CorrelationMessage),
	}
}

func (c *MemoryChannel) Publish(ctx context.Context, token string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := domain.CorrelationMessage{Token: token, Payload: payload}

	for _, ch := range c.subs[token] {
		select {
		case ch <- msg:
		default:
			// Subscriber already has an undelivered message; dropping keeps
			// the publisher from blocking. Waiters retry on their own timeout.
		}
	}

	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, token string) (<-chan domain.CorrelationMessage, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	ch := make(chan domain.CorrelationMessage, 1)

	if c.subs[token] == nil {
		c.subs[token] = make(map[int]chan domain.CorrelationMessage)
	}
	c.subs[token][id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if subs, ok := c.subs[token]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(c.subs, token)
			}
		}
	}

	return ch, cancel, nil
}
