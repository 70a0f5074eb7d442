package testutils

import (
	"context"
	"sync"

	"github.com/ctc/forcemon/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock of device.Advertisement
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) Addr() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) Services() []string {
	args := m.Called()
	svcs, _ := args.Get(0).([]string)
	return svcs
}

// MockAdapter is a testify mock of device.Adapter.
// Dial may be stubbed with a func(context.Context, string) (device.Client, error) return value.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockAdapter) Dial(ctx context.Context, address string) (device.Client, error) {
	args := m.Called(ctx, address)
	if fn, ok := args.Get(0).(func(context.Context, string) (device.Client, error)); ok {
		return fn(ctx, address)
	}
	cln, _ := args.Get(0).(device.Client)
	return cln, args.Error(1)
}

// MockClient is a testify mock of device.Client. Its Disconnected channel is
// closed by CancelConnection or Drop.
type MockClient struct {
	mock.Mock

	address  string
	dropOnce sync.Once
	done     chan struct{}
}

// NewMockClient creates a client mock for address
func NewMockClient(address string) *MockClient {
	return &MockClient{address: address, done: make(chan struct{})}
}

func (m *MockClient) Address() string {
	return m.address
}

func (m *MockClient) DiscoverProfile() ([]device.Service, error) {
	args := m.Called()
	svcs, _ := args.Get(0).([]device.Service)
	return svcs, args.Error(1)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.done
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	m.Drop()
	return args.Error(0)
}

// Drop simulates the link going down
func (m *MockClient) Drop() {
	m.dropOnce.Do(func() { close(m.done) })
}

// IsDropped reports whether the link is down
func (m *MockClient) IsDropped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// MockService is a static device.Service
type MockService struct {
	ServiceUUID string
	Chars       []device.Characteristic
}

func (s *MockService) UUID() string                             { return s.ServiceUUID }
func (s *MockService) Characteristics() []device.Characteristic { return s.Chars }

// MockCharacteristic is a testify mock of device.Characteristic that keeps the
// subscribed handler so tests can push notifications with Notify.
type MockCharacteristic struct {
	mock.Mock

	uuid  string
	props device.Property

	mu      sync.Mutex
	handler func([]byte)
}

// NewMockCharacteristic creates a characteristic mock
func NewMockCharacteristic(uuid string, props device.Property) *MockCharacteristic {
	return &MockCharacteristic{uuid: uuid, props: props}
}

func (m *MockCharacteristic) UUID() string {
	return m.uuid
}

func (m *MockCharacteristic) Properties() device.Property {
	return m.props
}

func (m *MockCharacteristic) Write(data []byte, withResponse bool) error {
	args := m.Called(string(data), withResponse)
	return args.Error(0)
}

func (m *MockCharacteristic) Subscribe(handler func([]byte)) error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MockCharacteristic) Unsubscribe() error {
	args := m.Called()
	m.mu.Lock()
	m.handler = nil
	m.mu.Unlock()
	return args.Error(0)
}

// Notify delivers payload to the subscribed handler; it reports false when nothing is subscribed
func (m *MockCharacteristic) Notify(payload []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Subscribed reports whether a handler is registered
func (m *MockCharacteristic) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}
