package devicefactory

import (
	"context"
	"errors"
	"testing"

	"github.com/ctc/forcemon/internal/device"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{}

func (stubAdapter) Scan(context.Context, func(device.Advertisement)) error { return nil }
func (stubAdapter) Dial(context.Context, string) (device.Client, error) {
	return nil, errors.New("not implemented")
}

func TestAdapterFactoryRejectsSimAndUnknown(t *testing.T) {
	_, err := AdapterFactory(TransportSim, logrus.New())
	assert.ErrorIs(t, err, device.ErrUnsupported, "sim transport MUST NOT produce a radio adapter")

	_, err = AdapterFactory("zigbee", logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transport "zigbee"`)
}

func TestNewAdapterUsesFactory(t *testing.T) {
	// GOAL: Verify NewAdapter delegates to the overridable AdapterFactory
	//
	// TEST SCENARIO: Factory replaced with a stub → NewAdapter returns the stub; failing factory → error surfaces

	orig := AdapterFactory
	t.Cleanup(func() { AdapterFactory = orig })

	var gotTransport string
	AdapterFactory = func(transport string, _ *logrus.Logger) (device.Adapter, error) {
		gotTransport = transport
		return stubAdapter{}, nil
	}

	adapter, err := NewAdapter("tinygo", nil)
	require.NoError(t, err)
	assert.IsType(t, stubAdapter{}, adapter)
	assert.Equal(t, "tinygo", gotTransport)

	AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return nil, device.ErrBluetoothOff
	}
	_, err = NewAdapter("goble", logrus.New())
	assert.ErrorIs(t, err, device.ErrBluetoothOff)
}
