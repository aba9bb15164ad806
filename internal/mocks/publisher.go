package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// Published is one event handed to PublisherMock.
type Published struct {
	RoutingKey string
	Event      any
}

// PublisherMock stands in for the AMQP publisher. Every Publish call is
// recorded before the configured expectation answers it.
type PublisherMock struct {
	mock.Mock

	mu        sync.Mutex
	published []Published
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	m.mu.Lock()
	m.published = append(m.published, Published{RoutingKey: routingKey, Event: event})
	m.mu.Unlock()
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Events returns the events published under routingKey, in order.
func (m *PublisherMock) Events(routingKey string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []any
	for _, p := range m.published {
		if p.RoutingKey == routingKey {
			events = append(events, p.Event)
		}
	}
	return events
}
