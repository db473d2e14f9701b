// Package uuids holds the GATT service and characteristic assignments of the
// camera's wire interface, plus helpers for normalizing and naming UUIDs.
package uuids

import (
	"fmt"
	"strings"
)

// Services advertised by the camera. The classic profile services (OPP, FTP,
// HID, audio) are repurposed as GATT command/response channels; the DFU
// service is the vendor bootloader service.
const (
	ServiceGenericAccess     = "00001800-0000-1000-8000-00805f9b34fb"
	ServiceDeviceInformation = "0000180a-0000-1000-8000-00805f9b34fb"
	ServiceBattery           = "0000180f-0000-1000-8000-00805f9b34fb"
	ServiceHID               = "00001812-0000-1000-8000-00805f9b34fb"
	ServiceAudioSource       = "0000110a-0000-1000-8000-00805f9b34fb"
	ServiceAudioSink         = "0000110b-0000-1000-8000-00805f9b34fb"
	ServiceObjectPush        = "00001105-0000-1000-8000-00805f9b34fb"
	ServiceFileTransfer      = "00001106-0000-1000-8000-00805f9b34fb"
	ServiceDFU               = "00001530-1212-efde-1523-785feabcd123"
)

// Standard characteristics read during device-information enrichment.
const (
	CharDeviceName       = "00002a00-0000-1000-8000-00805f9b34fb"
	CharModelNumber      = "00002a24-0000-1000-8000-00805f9b34fb"
	CharSerialNumber     = "00002a25-0000-1000-8000-00805f9b34fb"
	CharFirmwareRevision = "00002a26-0000-1000-8000-00805f9b34fb"
	CharManufacturerName = "00002a29-0000-1000-8000-00805f9b34fb"
	CharBatteryLevel     = "00002a19-0000-1000-8000-00805f9b34fb"
)

// Camera-assigned characteristics. The 0xca** block is the camera's vendor
// assignment inside the repurposed profile services.
const (
	CharCameraCommand  = "0000ca01-0000-1000-8000-00805f9b34fb" // ServiceHID, write
	CharCameraSettings = "0000ca02-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify

	CharFileTransferCommand  = "0000ca11-0000-1000-8000-00805f9b34fb" // ServiceFileTransfer, write
	CharFileTransferResponse = "0000ca12-0000-1000-8000-00805f9b34fb" // ServiceFileTransfer, notify

	CharObjectPushCommand  = "0000ca21-0000-1000-8000-00805f9b34fb" // ServiceObjectPush, write
	CharObjectPushResponse = "0000ca22-0000-1000-8000-00805f9b34fb" // ServiceObjectPush, notify

	CharTimecode = "0000ca31-0000-1000-8000-00805f9b34fb" // ServiceAudioSource, read/write/notify

	CharRecordingStatus = "0000ca41-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify
	CharStorageStatus   = "0000ca42-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify
	CharTemperature     = "0000ca43-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify
	CharCameraErrors    = "0000ca44-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify
	CharSystemStatus    = "0000ca45-0000-1000-8000-00805f9b34fb" // ServiceHID, read/notify
	CharPowerState      = "0000ca46-0000-1000-8000-00805f9b34fb" // ServiceBattery, read/notify
)

// DFU characteristics inside ServiceDFU.
const (
	CharDFUControlPoint = "00001531-1212-efde-1523-785feabcd123" // write/notify
	CharDFUPacket       = "00001532-1212-efde-1523-785feabcd123" // write without response
	CharDFUVersion      = "00001534-1212-efde-1523-785feabcd123" // read
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (xxxxxxxx-0000-1000-8000-00805f9b34fb) with dashes removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no
// dashes). Strips braces and an 0x prefix if present. For full 128-bit UUIDs
// in Bluetooth SIG base form (0000xxxx-0000-1000-8000-00805f9b34fb) the
// 16-bit short form (xxxx) is extracted.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
// Accepts one or more UUIDs as variadic arguments.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// serviceNames maps normalized service UUIDs to display names.
var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"1812": "Human Interface Device",
	"110a": "Audio Source",
	"110b": "Audio Sink",
	"1105": "Object Push",
	"1106": "File Transfer",
	"000015301212efde1523785feabcd123": "Device Firmware Update",
}

// characteristicNames maps normalized characteristic UUIDs to display names.
var characteristicNames = map[string]string{
	"2a00": "Device Name",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",

	"ca01": "Camera Command",
	"ca02": "Camera Settings",
	"ca11": "File Transfer Command",
	"ca12": "File Transfer Response",
	"ca21": "Object Push Command",
	"ca22": "Object Push Response",
	"ca31": "Timecode",
	"ca41": "Recording Status",
	"ca42": "Storage Status",
	"ca43": "Temperature",
	"ca44": "Camera Errors",
	"ca45": "System Status",
	"ca46": "Power State",

	"000015311212efde1523785feabcd123": "DFU Control Point",
	"000015321212efde1523785feabcd123": "DFU Packet",
	"000015341212efde1523785feabcd123": "DFU Version",
}

// LookupService returns the display name for a service UUID, or "" when the
// service is not part of the camera's interface.
func LookupService(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the display name for a characteristic UUID,
// or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}

// KnownName resolves a UUID against the characteristic table first, then the
// service table. Returns "" for UUIDs outside the camera interface.
func KnownName(uuid string) string {
	if name := LookupCharacteristic(uuid); name != "" {
		return name
	}
	return LookupService(uuid)
}
