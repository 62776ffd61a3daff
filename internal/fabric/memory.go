package fabric

import (
	"context"
)

// Memory is an in-process fabric for single instance deployments
type Memory struct {
	hub *hub
}

var _ Fabric = (*Memory)(nil)

// NewMemory creates an in-process fabric
func NewMemory() *Memory {
	return &Memory{hub: newHub(defaultBuffer)}
}

// Publish delivers payload to local subscribers
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	if m.hub.isClosed() {
		return ErrClosed
	}
	m.hub.dispatch(channel, payload)
	return nil
}

// Subscribe registers a local subscription
func (m *Memory) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	sub, _, err := m.hub.add(channel, func(s *Subscription) { m.hub.remove(s) })
	return sub, err
}

// Ping fails only after Close
func (m *Memory) Ping(context.Context) error {
	if m.hub.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close terminates every subscription
func (m *Memory) Close() error {
	m.hub.close()
	return nil
}
