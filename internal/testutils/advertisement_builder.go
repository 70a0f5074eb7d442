package testutils

import (
	"encoding/json"
	"fmt"
)

// AdvertisementBuilder builds mocked advertisements for testing.
// Every accessor is stubbed so scanners can read any field.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	connectable bool
}

// NewAdvertisementBuilder creates a builder with connectable=true and RSSI -50
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		connectable: true,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name        *string  `json:"name"`
		Address     *string  `json:"address"`
		RSSI        *int     `json:"rssi"`
		Services    []string `json:"services"`
		Connectable *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	if data.Services != nil {
		b.services = data.Services
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// Build creates a MockAdvertisement implementing device.Advertisement
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("Addr").Return(b.address).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("Services").Return(b.services).Maybe()
	return adv
}
