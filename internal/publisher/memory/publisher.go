// Package memory captures published notifications in memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one captured publish call, encoded the same way Pub/Sub would see it.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher stores published payloads for inspection. Setting Err makes
// every Publish fail.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it, returning a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
