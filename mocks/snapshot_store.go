package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/resident-x/homegrid/internal/domain"
)

// MockSnapshotStore is a mock of domain.SnapshotStore.
type MockSnapshotStore struct {
	mock.Mock
}

// NewMockSnapshotStore creates a mock that asserts its expectations on cleanup.
func NewMockSnapshotStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSnapshotStore {
	m := &MockSnapshotStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSnapshotStore) Load() ([]domain.SwitchRecord, error) {
	args := m.Called()
	records, _ := args.Get(0).([]domain.SwitchRecord)
	return records, args.Error(1)
}

func (m *MockSnapshotStore) Save(records []domain.SwitchRecord) error {
	args := m.Called(records)
	return args.Error(0)
}
