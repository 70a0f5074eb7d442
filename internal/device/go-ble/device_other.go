//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/ctc/forcemon/internal/device"
	"github.com/go-ble/ble"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("go-ble backend on %s: %w", runtime.GOOS, device.ErrUnsupported)
}
