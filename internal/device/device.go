package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a peripheral or one of its GATT resources is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	IDs      []string // Device name, or one or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.IDs[0])
	}
	// Characteristics are reported within their parent service
	return fmt.Sprintf("%s %s not found in service %q", e.Resource, quoteAll(e.IDs[1:]), e.IDs[0])
}

// Is allows errors.Is to compare NotFoundError values by Resource
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource
}

func quoteAll(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return strings.Join(quoted, ", ")
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// ConnectError is a transport-level failure while establishing a session
type ConnectError struct {
	Device string
	Op     string // "scan", "dial", "discover", "subscribe"
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %q: %s failed: %v", e.Device, e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WriteError is returned when a command could not be written to the peripheral
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", strings.TrimSpace(e.Command), e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DecodeError describes a notification payload that could not be turned into a reading
type DecodeError struct {
	Payload []byte
	Field   int // 1-based position of the offending field, 0 for the whole frame
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Field == 0 {
		return fmt.Sprintf("decode %q: %v", e.Payload, e.Err)
	}
	return fmt.Sprintf("decode %q: field %d: %v", e.Payload, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Predefined sentinel errors for connection states and lookups
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}

	ErrDeviceNotFound          = &NotFoundError{Resource: "device"}
	ErrServiceNotFound         = &NotFoundError{Resource: "service"}
	ErrCharacteristicsNotFound = &NotFoundError{Resource: "characteristic"}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrEmptyPayload = errors.New("empty payload")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single advertising report seen while scanning
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
}

// Adapter is the local radio: it scans for advertisers and dials them.
//
// Scan blocks until ctx is done or the backend stops scanning on its own;
// handler may be invoked from backend goroutines.
type Adapter interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (Client, error)
}

// Client is an established link to one peripheral
type Client interface {
	Address() string
	DiscoverProfile() ([]Service, error)
	// Disconnected is closed when the link goes down for any reason
	Disconnected() <-chan struct{}
	CancelConnection() error
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic is a resolved GATT characteristic handle
type Characteristic interface {
	UUID() string
	Properties() Property
	Write(data []byte, withResponse bool) error
	// Subscribe registers handler for notifications; handler runs on a backend goroutine
	Subscribe(handler func([]byte)) error
	Unsubscribe() error
}

// Property is the GATT characteristic property bitmask
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// Has reports whether all bits of p2 are set.
// A zero Property means the backend could not report properties.
func (p Property) Has(p2 Property) bool {
	return p == 0 || p&p2 == p2
}

func (p Property) String() string {
	if p == 0 {
		return "unknown"
	}
	var names []string
	for _, pn := range []struct {
		p    Property
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p&pn.p != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// FindService returns the service with the given UUID from a discovered profile
func FindService(services []Service, uuid string) (Service, bool) {
	want := NormalizeUUID(uuid)
	for _, svc := range services {
		if NormalizeUUID(svc.UUID()) == want {
			return svc, true
		}
	}
	return nil, false
}

// FindCharacteristic returns the characteristic with the given UUID within a service
func FindCharacteristic(svc Service, uuid string) (Characteristic, bool) {
	want := NormalizeUUID(uuid)
	for _, char := range svc.Characteristics() {
		if NormalizeUUID(char.UUID()) == want {
			return char, true
		}
	}
	return nil, false
}
