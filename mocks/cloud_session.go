// Package mocks provides testify mocks for the hub's interfaces and for the
// paho MQTT client.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/resident-x/homegrid/internal/domain"
)

// MockCloudSession is a mock of domain.CloudSession.
type MockCloudSession struct {
	mock.Mock
}

// NewMockCloudSession creates a mock that asserts its expectations on cleanup.
func NewMockCloudSession(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCloudSession {
	m := &MockCloudSession{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCloudSession) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockCloudSession) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCloudSession) Send(channel domain.Channel, value float64, kind domain.UnitKind) error {
	args := m.Called(channel, value, kind)
	return args.Error(0)
}

func (m *MockCloudSession) OnInbound(handler domain.InboundHandler) {
	m.Called(handler)
}

func (m *MockCloudSession) Pump() {
	m.Called()
}

func (m *MockCloudSession) Close() error {
	args := m.Called()
	return args.Error(0)
}
