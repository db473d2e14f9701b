package manager

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionState tracks a device through its connection lifecycle.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
)

// ScanState tracks the discovery lifecycle. One scan runs at a time.
type ScanState string

const (
	ScanStopped  ScanState = "stopped"
	ScanStarting ScanState = "starting"
	ScanActive   ScanState = "scanning"
	ScanStopping ScanState = "stopping"
)

// Device is a snapshot of everything known about a camera: advertisement
// data from scanning plus device-information reads once connected.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi"`

	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serial,omitempty"`
	Firmware     string `json:"firmware,omitempty"`

	// Services holds the normalized UUIDs of the GATT services discovered
	// during the most recent connect. Empty until the first connection.
	Services []string `json:"services,omitempty"`

	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// ErrClosed is returned by operations on a manager after Close.
var ErrClosed = errors.New("manager closed")

// ErrDeviceBusy is the sentinel an exclusive-operation conflict matches
// under errors.Is.
var ErrDeviceBusy = errors.New("device busy")

// BusyError names the operation holding a device's exclusive guard.
type BusyError struct {
	DeviceID string
	Op       string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("device %s busy: %s in progress", e.DeviceID, e.Op)
}

// Is allows errors.Is(err, ErrDeviceBusy) to match BusyError values.
func (e *BusyError) Is(target error) bool {
	return target == ErrDeviceBusy
}
