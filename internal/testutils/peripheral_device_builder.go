package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a GATT characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "write,write-without-response"
}

// ServiceConfig represents a GATT service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// NUSProfileJSON is the profile exposed by the force-sensor firmware
const NUSProfileJSON = `{
	"services": [
		{
			"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			"characteristics": [
				{ "uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,write-without-response" },
				{ "uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "notify" }
			]
		}
	]
}`

const (
	cmdGetForce = "GET_FORCE\n"
	cmdStart    = "START_FORCE_READING\n"
	cmdStop     = "STOP_FORCE_READING\n"
)

// PeripheralDeviceBuilder builds a mocked adapter that advertises one force-sensor
// peripheral and serves its GATT profile
type PeripheralDeviceBuilder struct {
	t *testing.T

	name      string
	address   string
	advertise bool
	others    []*AdvertisementBuilder
	profile   DeviceProfileConfig

	scanErr      error
	dialErr      error
	dialDelay    time.Duration
	discoverErr  error
	subscribeErr error
	writeErr     error

	responses      map[string][]byte
	responseDelay  time.Duration
	stream         [][]byte
	streamInterval time.Duration
}

// NewPeripheralDeviceBuilder creates a builder for a NUS peripheral named "ESP32_1"
func NewPeripheralDeviceBuilder(t *testing.T) *PeripheralDeviceBuilder {
	b := &PeripheralDeviceBuilder{
		t:              t,
		name:           "ESP32_1",
		address:        "AA:BB:CC:DD:EE:01",
		advertise:      true,
		responses:      map[string][]byte{},
		streamInterval: 20 * time.Millisecond,
	}
	return b.FromJSON(NUSProfileJSON)
}

// WithName sets the advertised local name
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.name = name
	return b
}

// WithAddress sets the peripheral address
func (b *PeripheralDeviceBuilder) WithAddress(address string) *PeripheralDeviceBuilder {
	b.address = address
	return b
}

// WithoutAdvertising makes the peripheral invisible to scans
func (b *PeripheralDeviceBuilder) WithoutAdvertising() *PeripheralDeviceBuilder {
	b.advertise = false
	return b
}

// WithOtherAdvertisements adds unrelated advertisers seen during the scan
func (b *PeripheralDeviceBuilder) WithOtherAdvertisements(ads ...*AdvertisementBuilder) *PeripheralDeviceBuilder {
	b.others = append(b.others, ads...)
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON replaces the device profile
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// WithScanError makes Scan fail immediately
func (b *PeripheralDeviceBuilder) WithScanError(err error) *PeripheralDeviceBuilder {
	b.scanErr = err
	return b
}

// WithDialError makes Dial fail
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithDialDelay delays Dial; the delay is cut short by the dial context
func (b *PeripheralDeviceBuilder) WithDialDelay(d time.Duration) *PeripheralDeviceBuilder {
	b.dialDelay = d
	return b
}

// WithDiscoverError makes profile discovery fail
func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// WithSubscribeError makes subscribing to the notify characteristic fail
func (b *PeripheralDeviceBuilder) WithSubscribeError(err error) *PeripheralDeviceBuilder {
	b.subscribeErr = err
	return b
}

// WithWriteError makes every command write fail
func (b *PeripheralDeviceBuilder) WithWriteError(err error) *PeripheralDeviceBuilder {
	b.writeErr = err
	return b
}

// WithForceResponse answers GET_FORCE with payload after delay
func (b *PeripheralDeviceBuilder) WithForceResponse(payload string, delay time.Duration) *PeripheralDeviceBuilder {
	b.responses[cmdGetForce] = []byte(payload)
	b.responseDelay = delay
	return b
}

// WithStream pushes payloads in a loop every interval between START and STOP commands
func (b *PeripheralDeviceBuilder) WithStream(interval time.Duration, payloads ...string) *PeripheralDeviceBuilder {
	b.streamInterval = interval
	for _, p := range payloads {
		b.stream = append(b.stream, []byte(p))
	}
	return b
}

// parseCharacteristicProperties converts a comma separated property list to device.Property flags
func parseCharacteristicProperties(props string) device.Property {
	var p device.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(name) {
		case "read":
			p |= device.PropRead
		case "write":
			p |= device.PropWrite
		case "write-without-response":
			p |= device.PropWriteWithoutResponse
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		}
	}
	return p
}

// Peripheral is a built mock: the adapter to inject plus handles to drive the peripheral
type Peripheral struct {
	Adapter *MockAdapter
	Name    string
	Address string

	chars    map[string]*MockCharacteristic
	services []device.Service

	mu       sync.Mutex
	clients  []*MockClient
	writes   []string
	streamer chan struct{}
}

// Client returns the most recently dialed client, nil if never dialed
func (p *Peripheral) Client() *MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) == 0 {
		return nil
	}
	return p.clients[len(p.clients)-1]
}

// Dials returns how many connections were opened
func (p *Peripheral) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Writes returns the commands written so far
func (p *Peripheral) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// Characteristic returns the mock for uuid
func (p *Peripheral) Characteristic(uuid string) *MockCharacteristic {
	return p.chars[device.NormalizeUUID(uuid)]
}

// TX returns the notify characteristic
func (p *Peripheral) TX() *MockCharacteristic {
	return p.Characteristic(device.NUSTXCharUUID)
}

// RX returns the write characteristic
func (p *Peripheral) RX() *MockCharacteristic {
	return p.Characteristic(device.NUSRXCharUUID)
}

// Notify pushes payload through the notify characteristic
func (p *Peripheral) Notify(payload string) bool {
	tx := p.TX()
	if tx == nil {
		return false
	}
	return tx.Notify([]byte(payload))
}

func (p *Peripheral) recordWrite(cmd string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, cmd)
}

func (p *Peripheral) startStream(interval time.Duration, frames [][]byte) {
	p.mu.Lock()
	if p.streamer != nil || len(frames) == 0 {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.streamer = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Notify(string(frames[i%len(frames)]))
			}
		}
	}()
}

func (p *Peripheral) stopStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer != nil {
		close(p.streamer)
		p.streamer = nil
	}
}

// Build creates the mocked adapter with the configured profile
func (b *PeripheralDeviceBuilder) Build() *Peripheral {
	p := &Peripheral{
		Adapter: &MockAdapter{},
		Name:    b.name,
		Address: b.address,
		chars:   map[string]*MockCharacteristic{},
	}

	for _, svcConfig := range b.profile.Services {
		svc := &MockService{ServiceUUID: svcConfig.UUID}
		for _, charConfig := range svcConfig.Characteristics {
			char := NewMockCharacteristic(charConfig.UUID, parseCharacteristicProperties(charConfig.Properties))
			char.On("Subscribe").Return(b.subscribeErr)
			char.On("Unsubscribe").Return(nil)
			char.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				b.onWrite(p, args.String(0))
			}).Return(b.writeErr)

			p.chars[device.NormalizeUUID(charConfig.UUID)] = char
			svc.Chars = append(svc.Chars, char)
		}
		p.services = append(p.services, svc)
	}

	var ads []*MockAdvertisement
	if b.advertise {
		ads = append(ads, NewAdvertisementBuilder().WithName(b.name).WithAddress(b.address).
			WithServices(device.NUSServiceUUID).Build())
	}
	for _, other := range b.others {
		ads = append(ads, other.Build())
	}

	if b.scanErr != nil {
		p.Adapter.On("Scan", mock.Anything, mock.Anything).Return(b.scanErr)
	} else {
		p.Adapter.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			handler := args.Get(1).(func(device.Advertisement))
			for _, adv := range ads {
				if ctx.Err() != nil {
					return
				}
				handler(adv)
			}
			<-ctx.Done()
		}).Return(nil)
	}

	p.Adapter.On("Dial", mock.Anything, mock.Anything).Return(func(ctx context.Context, address string) (device.Client, error) {
		if b.dialDelay > 0 {
			select {
			case <-time.After(b.dialDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		if address != b.address {
			return nil, fmt.Errorf("no peripheral at %s", address)
		}

		client := NewMockClient(address)
		if b.discoverErr != nil {
			client.On("DiscoverProfile").Return(nil, b.discoverErr)
		} else {
			client.On("DiscoverProfile").Return(p.services, nil)
		}
		client.On("CancelConnection").Run(func(mock.Arguments) {
			p.stopStream()
		}).Return(nil)

		p.mu.Lock()
		p.clients = append(p.clients, client)
		p.mu.Unlock()
		return client, nil
	})

	if b.t != nil {
		b.t.Cleanup(p.stopStream)
	}
	return p
}

func (b *PeripheralDeviceBuilder) onWrite(p *Peripheral, cmd string) {
	p.recordWrite(cmd)
	if b.writeErr != nil {
		return
	}

	switch cmd {
	case cmdStart:
		p.startStream(b.streamInterval, b.stream)
	case cmdStop:
		p.stopStream()
	}

	if payload, ok := b.responses[cmd]; ok {
		delay := b.responseDelay
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			p.Notify(string(payload))
		}()
	}
}
