package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ctc/forcemon/internal/device"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// Adapter implements device.Adapter on top of a go-ble HCI/CoreBluetooth device.
// The underlying ble.Device is created on first use and shared by every session.
type Adapter struct {
	mu     sync.Mutex
	dev    ble.Device
	logger *logrus.Logger
}

// NewAdapter creates an adapter; the radio is not opened until the first Scan or Dial
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev != nil {
		return a.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		a.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	a.dev = dev
	return dev, nil
}

// Open creates the underlying device eagerly so a missing radio is reported up front
func (a *Adapter) Open() error {
	_, err := a.device()
	return err
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	a.logger.Debug("Scanning for BLE advertisements...")
	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return err
}

// Dial connects to the peripheral at address
func (a *Adapter) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	a.logger.WithField("address", address).Debug("Dialing BLE device...")
	cln, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &Client{cln: cln, logger: a.logger}, nil
}
