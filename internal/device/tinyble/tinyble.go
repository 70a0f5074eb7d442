// Package tinyble implements the device transport on top of tinygo.org/x/bluetooth,
// which talks to BlueZ over D-Bus on Linux and WinRT on Windows. It is an
// alternative to the go-ble backend for hosts where raw HCI access is not
// available.
package tinyble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/ctc/forcemon/internal/device"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// Adapter implements device.Adapter using a tinygo bluetooth adapter.
// Peripherals can only be dialed after they were seen during a scan, because
// the platform address type is opaque.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	seen    *hashmap.Map[string, bluetooth.Address]
	clients *hashmap.Map[string, *Client]
}

// NewAdapter wraps bluetooth.DefaultAdapter
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		seen:    hashmap.New[string, bluetooth.Address](),
		clients: hashmap.New[string, *Client](),
	}
}

// Open enables the adapter
func (a *Adapter) Open() error {
	a.enableOnce.Do(func() {
		a.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			a.connectionChanged(dev.Address.String(), connected)
		})
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("failed to enable BLE adapter: %w", err)
		}
	})
	return a.enableErr
}

// connectionChanged closes the Disconnected channel of a client whose link went down
func (a *Adapter) connectionChanged(address string, connected bool) {
	if connected {
		return
	}
	c, ok := a.clients.Get(address)
	if !ok {
		return
	}
	a.clients.Del(address)
	a.logger.WithField("address", address).Debug("Peripheral link lost")
	c.markClosed()
}

// Scan reports advertisements until ctx is done
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if err := a.Open(); err != nil {
		return err
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				a.logger.WithField("error", err).Debug("StopScan after context done")
			}
		case <-finished:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			_ = adapter.StopScan()
			return
		}
		address := result.Address.String()
		a.seen.Set(address, result.Address)
		handler(newAdvertisement(address, result.RSSI, result.AdvertisementPayload))
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return ctx.Err()
}

// Dial connects to a peripheral previously seen by Scan
func (a *Adapter) Dial(ctx context.Context, address string) (device.Client, error) {
	addr, ok := a.seen.Get(address)
	if !ok {
		return nil, &device.NotFoundError{Resource: "device", IDs: []string{address}}
	}
	if err := a.Open(); err != nil {
		return nil, err
	}

	type dialResult struct {
		dev bluetooth.Device
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		resultCh <- dialResult{dev: dev, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		c := &Client{dev: res.dev, address: address, done: make(chan struct{})}
		a.clients.Set(address, c)
		return c, nil
	case <-ctx.Done():
		// The platform connect cannot be cancelled; drop the link if it completes later
		go func() {
			if res := <-resultCh; res.err == nil {
				_ = res.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// advertisement is a copy of a scan result; the payload is only valid inside the scan callback
type advertisement struct {
	name     string
	address  string
	rssi     int
	services []string
}

func newAdvertisement(address string, rssi int16, payload bluetooth.AdvertisementPayload) *advertisement {
	adv := &advertisement{address: address, rssi: int(rssi)}
	if payload == nil {
		return adv
	}
	adv.name = payload.LocalName()
	for _, u := range payload.ServiceUUIDs() {
		adv.services = append(adv.services, device.NormalizeUUID(u.String()))
	}
	return adv
}

func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) Addr() string       { return a.address }
func (a *advertisement) RSSI() int          { return a.rssi }
func (a *advertisement) Connectable() bool  { return true }
func (a *advertisement) Services() []string { return a.services }

// Client is a tinygo bluetooth connection
type Client struct {
	dev     bluetooth.Device
	address string

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) DiscoverProfile() ([]device.Service, error) {
	svcs, err := c.dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	result := make([]device.Service, 0, len(svcs))
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svc.UUID(), err)
		}
		s := &service{uuid: device.NormalizeUUID(svc.UUID().String())}
		for _, char := range chars {
			s.chars = append(s.chars, &characteristic{
				uuid: device.NormalizeUUID(char.UUID().String()),
				char: char,
			})
		}
		result = append(result, s)
	}
	return result, nil
}

// Disconnected is closed on CancelConnection or when the adapter reports the link down
func (c *Client) Disconnected() <-chan struct{} {
	return c.done
}

func (c *Client) CancelConnection() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.dev.Disconnect()
	c.markClosed()
	return err
}

func (c *Client) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}

type service struct {
	uuid  string
	chars []device.Characteristic
}

func (s *service) UUID() string                             { return s.uuid }
func (s *service) Characteristics() []device.Characteristic { return s.chars }

type characteristic struct {
	uuid string
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() string { return c.uuid }

// Properties is not reported by every tinygo platform
func (c *characteristic) Properties() device.Property { return 0 }

// Write always writes without response; acknowledged writes are not available on every platform
func (c *characteristic) Write(data []byte, _ bool) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *characteristic) Subscribe(handler func([]byte)) error {
	if handler == nil {
		return errors.New("nil notification handler")
	}
	return c.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		handler(data)
	})
}

func (c *characteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
