package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/resident-x/homegrid/internal/domain"
)

// MockTelemetrySink is a mock of domain.TelemetrySink.
type MockTelemetrySink struct {
	mock.Mock
}

// NewMockTelemetrySink creates a mock that asserts its expectations on cleanup.
func NewMockTelemetrySink(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTelemetrySink {
	m := &MockTelemetrySink{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTelemetrySink) Record(ctx context.Context, sample domain.SerialTelemetry, state domain.SwitchRecord) {
	m.Called(ctx, sample, state)
}

func (m *MockTelemetrySink) Close() error {
	args := m.Called()
	return args.Error(0)
}
