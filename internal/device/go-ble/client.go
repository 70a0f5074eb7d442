package goble

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ctc/forcemon/internal/device"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Client wraps ble.Client to implement device.Client
type Client struct {
	cln    ble.Client
	logger *logrus.Logger
}

func (c *Client) Address() string {
	return c.cln.Addr().String()
}

// DiscoverProfile discovers services, characteristics and descriptors.
// Descriptors are needed for the CCCD used by Subscribe.
func (c *Client) DiscoverProfile() ([]device.Service, error) {
	profile, err := c.cln.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	services := make([]device.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := &Service{uuid: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			svc.chars = append(svc.chars, &Characteristic{
				uuid: device.NormalizeUUID(bleChar.UUID.String()),
				char: bleChar,
				cln:  c.cln,
			})
		}
		services = append(services, svc)

		c.logger.WithFields(logrus.Fields{
			"service_uuid":    svc.uuid,
			"characteristics": len(svc.chars),
		}).Debug("Found service")
	}

	// Sort by UUID for consistent ordering
	sort.Slice(services, func(i, j int) bool {
		return services[i].UUID() < services[j].UUID()
	})
	return services, nil
}

func (c *Client) Disconnected() <-chan struct{} {
	return c.cln.Disconnected()
}

func (c *Client) CancelConnection() error {
	return NormalizeError(c.cln.CancelConnection())
}

// ----------------------------
// BLE Service
// ----------------------------

// Service represents a discovered GATT service and its characteristics
type Service struct {
	uuid  string
	chars []device.Characteristic
}

func (s *Service) UUID() string {
	return s.uuid
}

func (s *Service) Characteristics() []device.Characteristic {
	return s.chars
}

// ----------------------------
// BLE Characteristic
// ----------------------------

// Characteristic is a live handle to a remote characteristic
type Characteristic struct {
	uuid string
	char *ble.Characteristic
	cln  ble.Client

	mu       sync.Mutex
	indicate bool
}

func (c *Characteristic) UUID() string {
	return c.uuid
}

func (c *Characteristic) Properties() device.Property {
	var p device.Property
	if c.char.Property&ble.CharRead != 0 {
		p |= device.PropRead
	}
	if c.char.Property&ble.CharWrite != 0 {
		p |= device.PropWrite
	}
	if c.char.Property&ble.CharWriteNR != 0 {
		p |= device.PropWriteWithoutResponse
	}
	if c.char.Property&ble.CharNotify != 0 {
		p |= device.PropNotify
	}
	if c.char.Property&ble.CharIndicate != 0 {
		p |= device.PropIndicate
	}
	return p
}

func (c *Characteristic) Write(data []byte, withResponse bool) error {
	return NormalizeError(c.cln.WriteCharacteristic(c.char, data, !withResponse))
}

// Subscribe enables notifications, falling back to indications when the
// characteristic does not support notify.
func (c *Characteristic) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.indicate = c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
	return NormalizeError(c.cln.Subscribe(c.char, c.indicate, func(req []byte) {
		// go-ble reuses its receive buffer
		data := make([]byte, len(req))
		copy(data, req)
		handler(data)
	}))
}

func (c *Characteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NormalizeError(c.cln.Unsubscribe(c.char, c.indicate))
}
