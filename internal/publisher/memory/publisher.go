// Package memory contains in-memory publisher implementations for tests.
package memory

import (
	"context"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic string
	Data  []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

var _ research.Publisher = (*Publisher)(nil)

// Publish records the message.
func (p *Publisher) Publish(_ context.Context, topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{
		Topic: topic,
		Data:  append([]byte(nil), data...),
	})
	return nil
}

// Close is a no-op for the memory publisher.
func (p *Publisher) Close() error { return nil }

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
