package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctc/forcemon/internal/device"
)

// ErrUnknownDevice is returned for a device name the manager does not serve
var ErrUnknownDevice = errors.New("unknown device")

// ConnectionFailedError reports a peripheral that could not be connected within its budget
type ConnectionFailedError struct {
	Device string
	Err    error
}

func (e *ConnectionFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Connection Failed (%s)", e.Device)
	}
	return fmt.Sprintf("Connection Failed (%s): %v", e.Device, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}

// FormatUserError turns an error chain into a message for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "Bluetooth is turned off"
	case errors.Is(err, device.ErrUnsupported):
		hint = "no usable Bluetooth adapter (use --sim for simulated readings)"
	case errors.Is(err, device.ErrDeviceNotFound):
		hint = "peripheral not found; make sure it is powered and advertising"
	case errors.Is(err, device.ErrServiceNotFound), errors.Is(err, device.ErrCharacteristicsNotFound):
		hint = "peripheral does not expose the force-sensor UART service"
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		hint = "operation timed out"
	}

	msg := err.Error()
	var cf *ConnectionFailedError
	if errors.As(err, &cf) {
		msg = fmt.Sprintf("Connection Failed (%s)", cf.Device)
		if hint == "" && cf.Err != nil {
			hint = cf.Err.Error()
		}
	}

	if hint == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, hint)
}
