package mocks

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock of mqtt.Client.
type MockClient struct {
	mock.Mock
}

// NewMockClient creates a mock that asserts its expectations on cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockClient) IsConnectionOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockClient) Connect() mqtt.Token {
	args := m.Called()
	token, _ := args.Get(0).(mqtt.Token)
	return token
}

func (m *MockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	token, _ := args.Get(0).(mqtt.Token)
	return token
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(topic, qos, callback)
	token, _ := args.Get(0).(mqtt.Token)
	return token
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(filters, callback)
	token, _ := args.Get(0).(mqtt.Token)
	return token
}

func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	args := m.Called(topics)
	token, _ := args.Get(0).(mqtt.Token)
	return token
}

func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	args := m.Called()
	reader, _ := args.Get(0).(mqtt.ClientOptionsReader)
	return reader
}

// MockToken is a mock of mqtt.Token.
type MockToken struct {
	mock.Mock
}

// NewMockToken creates a mock that asserts its expectations on cleanup.
func NewMockToken(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockToken {
	m := &MockToken{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	args := m.Called(d)
	return args.Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	ch, _ := args.Get(0).(chan struct{})
	return ch
}

func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

// CompletedToken returns a token mock that is already done with err.
func CompletedToken(t interface {
	mock.TestingT
	Cleanup(func())
}, err error) *MockToken {
	done := make(chan struct{})
	close(done)

	token := NewMockToken(t)
	token.On("Done").Return(done).Maybe()
	token.On("Wait").Return(true).Maybe()
	token.On("WaitTimeout", mock.Anything).Return(true).Maybe()
	token.On("Error").Return(err).Maybe()
	return token
}
