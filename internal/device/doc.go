// Package device defines the Bluetooth Low Energy transport abstraction used by
// force-sensor sessions.
//
// The package provides:
//   - Adapter, Client, Service and Characteristic interfaces implemented by the
//     go-ble and tinygo backends
//   - The error taxonomy shared by sessions and the polling façade
//   - Nordic UART Service identifiers and UUID normalization helpers
package device
