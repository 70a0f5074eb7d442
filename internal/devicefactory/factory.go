package devicefactory

import (
	"fmt"
	"strings"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/device/go-ble"
	"github.com/ctc/forcemon/internal/device/tinyble"
	"github.com/sirupsen/logrus"
)

// Transport names accepted by AdapterFactory
const (
	TransportGoBLE  = "goble"
	TransportTinyGo = "tinygo"
	TransportSim    = "sim"
)

// opener is implemented by backends that can bring the radio up eagerly
type opener interface {
	Open() error
}

// AdapterFactory creates the device.Adapter for the named transport.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(transport string, logger *logrus.Logger) (device.Adapter, error) {
	var adapter device.Adapter
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", TransportGoBLE, "go-ble":
		adapter = goble.NewAdapter(logger)
	case TransportTinyGo, "tinyble":
		adapter = tinyble.NewAdapter(logger)
	case TransportSim:
		return nil, fmt.Errorf("transport %q has no adapter: %w", transport, device.ErrUnsupported)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	if o, ok := adapter.(opener); ok {
		if err := o.Open(); err != nil {
			return nil, err
		}
	}
	return adapter, nil
}

// NewAdapter creates the adapter for transport using AdapterFactory
func NewAdapter(transport string, logger *logrus.Logger) (device.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	adapter, err := AdapterFactory(transport, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"transport": transport,
			"error":     err,
		}).Warn("BLE adapter is not available")
		return nil, err
	}
	return adapter, nil
}
