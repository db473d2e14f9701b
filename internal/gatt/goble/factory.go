// Package goble implements the gatt.Transport contract on top of the go-ble
// stack: platform adapter management, scanning, connection lifecycle, chunked
// writes, and notification dispatch.
package goble

import (
	"sync"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

var (
	platformMu  sync.Mutex
	platformDev ble.Device
)

// Platform returns the process-wide ble.Device, creating it on first use and
// registering it as the go-ble default so Dial and Scan route through it.
// Adapter preconditions (powered off, missing, no permission) surface as
// gatt.AdapterError before any radio traffic happens.
func Platform() (ble.Device, error) {
	platformMu.Lock()
	defer platformMu.Unlock()

	if platformDev != nil {
		return platformDev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	platformDev = dev
	return dev, nil
}

// ResetPlatform drops the cached platform device so the next Platform call
// re-creates it. Used by tests that swap DeviceFactory.
func ResetPlatform() {
	platformMu.Lock()
	defer platformMu.Unlock()
	platformDev = nil
}
