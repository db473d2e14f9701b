package uuids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "1812",
			expected: "1812",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x1812",
			expected: "1812",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "00001812-0000-1000-8000-00805f9b34fb",
			expected: "1812",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000181200001000800000805f9b34fb",
			expected: "1812",
		},
		{
			name:     "Uppercase input",
			input:    "00001812-0000-1000-8000-00805F9B34FB",
			expected: "1812",
		},
		{
			name:     "UUID with braces",
			input:    "{00001812-0000-1000-8000-00805f9b34fb}",
			expected: "1812",
		},
		{
			name:     "Vendor DFU UUID keeps full form",
			input:    "00001530-1212-efde-1523-785feabcd123",
			expected: "000015301212efde1523785feabcd123",
		},
		{
			name:     "Camera characteristic extracts short form",
			input:    CharCameraCommand,
			expected: "ca01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	assert.Nil(t, NormalizeUUIDs(nil))
	assert.Equal(t,
		[]string{"1105", "1106", "ca31"},
		NormalizeUUIDs([]string{ServiceObjectPush, ServiceFileTransfer, "0xCA31"}))
}

// TestLookupService verifies lookups work with both short and full UUIDs
func TestLookupService(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		expected string
	}{
		{
			name:     "HID - short form",
			uuid:     "1812",
			expected: "Human Interface Device",
		},
		{
			name:     "HID - full UUID",
			uuid:     ServiceHID,
			expected: "Human Interface Device",
		},
		{
			name:     "Object Push - full UUID",
			uuid:     ServiceObjectPush,
			expected: "Object Push",
		},
		{
			name:     "File Transfer - full UUID",
			uuid:     ServiceFileTransfer,
			expected: "File Transfer",
		},
		{
			name:     "DFU - vendor UUID",
			uuid:     ServiceDFU,
			expected: "Device Firmware Update",
		},
		{
			name:     "Unknown UUID",
			uuid:     "ffff",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LookupService(tt.uuid)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLookupCharacteristic(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		expected string
	}{
		{
			name:     "Camera Command - short form",
			uuid:     "ca01",
			expected: "Camera Command",
		},
		{
			name:     "Camera Settings - full UUID",
			uuid:     CharCameraSettings,
			expected: "Camera Settings",
		},
		{
			name:     "Timecode - full UUID",
			uuid:     CharTimecode,
			expected: "Timecode",
		},
		{
			name:     "Battery Level - standard characteristic",
			uuid:     CharBatteryLevel,
			expected: "Battery Level",
		},
		{
			name:     "DFU Control Point - vendor UUID",
			uuid:     CharDFUControlPoint,
			expected: "DFU Control Point",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LookupCharacteristic(tt.uuid)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "Camera Errors", KnownName(CharCameraErrors))
	assert.Equal(t, "Device Firmware Update", KnownName(ServiceDFU))
	assert.Equal(t, "", KnownName("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "1812", ShortenUUID("1812"))
	assert.Equal(t, "00001812", ShortenUUID("00001812-0000-1000-8000-00805f9b34fb"))
}

func TestValidateUUID(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		_, err := ValidateUUID()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one UUID")
	})

	t.Run("empty string rejected with index", func(t *testing.T) {
		_, err := ValidateUUID(ServiceHID, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index 1")
	})

	t.Run("normalizes valid input", func(t *testing.T) {
		got, err := ValidateUUID(ServiceHID, CharCameraCommand)
		require.NoError(t, err)
		assert.Equal(t, []string{"1812", "ca01"}, got)
	})
}
