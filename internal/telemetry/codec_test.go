package telemetry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/telemetry"
)

func TestRecordingStatusLayout(t *testing.T) {
	st := &telemetry.RecordingStatus{
		State:     telemetry.RecordingActive,
		Duration:  90 * time.Second,
		ClipCount: 7,
		Remaining: time.Hour,
	}
	raw := telemetry.EncodeRecordingStatus(st)
	assert.Equal(t, []byte{
		0x01,
		0x5a, 0x00, 0x00, 0x00,
		0x07, 0x00,
		0x10, 0x0e, 0x00, 0x00,
	}, raw)

	got, err := telemetry.DecodeRecordingStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestStorageStatusRoundTrip(t *testing.T) {
	st := &telemetry.StorageStatus{
		TotalBytes:       1 << 40,
		FreeBytes:        1 << 39,
		UsedBytes:        1<<40 - 1<<39,
		MediaCount:       2,
		MediaStatus:      telemetry.MediaReady,
		WriteSpeed:       450.5,
		ReadSpeed:        520.25,
		Health:           97,
		EstRecordingTime: 45 * time.Minute,
		LastWrite:        time.Unix(1_700_000_000, 0).UTC(),
	}
	raw := telemetry.EncodeStorageStatus(st)
	require.Len(t, raw, 48)

	got, err := telemetry.DecodeStorageStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestStorageStatusNeverWritten(t *testing.T) {
	raw := telemetry.EncodeStorageStatus(&telemetry.StorageStatus{MediaStatus: telemetry.MediaNone})
	got, err := telemetry.DecodeStorageStatus(raw)
	require.NoError(t, err)
	assert.True(t, got.LastWrite.IsZero(), "a zero epoch stays a zero time")
}

func TestTemperatureDecoding(t *testing.T) {
	raw := telemetry.EncodeTemperatures([]telemetry.TemperatureReading{
		{Zone: telemetry.ZoneCore, Celsius: 45.5},
		{Zone: telemetry.ZoneBattery, Celsius: 62},
	})

	readings, err := telemetry.DecodeTemperatures(raw)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, telemetry.ZoneCore, readings[0].Zone)
	assert.InDelta(t, 45.5, readings[0].Celsius, 0.001)
	assert.Equal(t, telemetry.SeverityNormal, readings[0].Severity)

	assert.Equal(t, telemetry.ZoneBattery, readings[1].Zone)
	assert.Equal(t, telemetry.SeverityWarning, readings[1].Severity)
}

func TestTemperatureDecodingEmpty(t *testing.T) {
	readings, err := telemetry.DecodeTemperatures([]byte{0x00})
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestSeverityThresholds(t *testing.T) {
	tests := []struct {
		celsius float32
		want    telemetry.Severity
	}{
		{-5, telemetry.SeverityNormal},
		{59.9, telemetry.SeverityNormal},
		{60, telemetry.SeverityWarning},
		{74.9, telemetry.SeverityWarning},
		{75, telemetry.SeverityCritical},
		{84.9, telemetry.SeverityCritical},
		{85, telemetry.SeverityEmergency},
		{110, telemetry.SeverityEmergency},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, telemetry.SeverityFor(tt.celsius), "at %.1f degrees", tt.celsius)
	}
}

func TestCameraErrorsRoundTrip(t *testing.T) {
	errs := []telemetry.CameraError{
		{
			Category:  telemetry.CategoryMedia,
			Code:      0x0102,
			Severity:  telemetry.ErrorSerious,
			Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		},
		{
			Category: telemetry.CategoryThermal,
			Code:     0x0007,
			Severity: telemetry.ErrorWarning,
			// no timestamp, the camera booted without a clock
		},
	}
	raw := telemetry.EncodeCameraErrors(errs)
	require.Len(t, raw, 1+2*12)

	got, err := telemetry.DecodeCameraErrors(raw)
	require.NoError(t, err)
	assert.Equal(t, errs, got)
	assert.True(t, got[1].Timestamp.IsZero())
}

func TestSystemStatusLayout(t *testing.T) {
	st := &telemetry.SystemStatus{Health: 88, Uptime: 2 * time.Hour}
	raw := telemetry.EncodeSystemStatus(st)
	assert.Equal(t, []byte{0x58, 0x20, 0x1c, 0x00, 0x00}, raw)

	got, err := telemetry.DecodeSystemStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestPowerStatusRoundTrip(t *testing.T) {
	st := &telemetry.PowerStatus{
		BatteryPercent: 76,
		Charging:       true,
		Voltage:        14.4,
		Source:         telemetry.SourceMains,
	}
	raw := telemetry.EncodePowerStatus(st)
	require.Len(t, raw, 7)
	assert.Equal(t, byte(76), raw[0])
	assert.Equal(t, byte(1), raw[1])
	assert.Equal(t, byte(telemetry.SourceMains), raw[6])

	got, err := telemetry.DecodePowerStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestDecodeRejectsTruncatedRecords(t *testing.T) {
	tests := []struct {
		name   string
		decode func([]byte) error
		want   string
	}{
		{"recording", func(p []byte) error { _, err := telemetry.DecodeRecordingStatus(p); return err }, "recording record"},
		{"storage", func(p []byte) error { _, err := telemetry.DecodeStorageStatus(p); return err }, "storage record"},
		{"temperature", func(p []byte) error { _, err := telemetry.DecodeTemperatures(p); return err }, "temperature record"},
		{"errors", func(p []byte) error { _, err := telemetry.DecodeCameraErrors(p); return err }, "camera error record"},
		{"system", func(p []byte) error { _, err := telemetry.DecodeSystemStatus(p); return err }, "system record"},
		{"power", func(p []byte) error { _, err := telemetry.DecodePowerStatus(p); return err }, "power record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a declared count with a missing body trips the repeated
			// records, a bare truncation trips the fixed ones
			err := tt.decode([]byte{0x02, 0x01})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeBatteryLevel(t *testing.T) {
	pct, err := telemetry.DecodeBatteryLevel([]byte{0x42})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), pct)

	_, err = telemetry.DecodeBatteryLevel(nil)
	require.Error(t, err)
}

func TestStatusEnumNames(t *testing.T) {
	assert.Equal(t, "recording", telemetry.RecordingActive.String())
	assert.Equal(t, "state(9)", telemetry.RecordingState(9).String())

	assert.Equal(t, "read-only", telemetry.MediaReadOnly.String())
	assert.Equal(t, "status(8)", telemetry.MediaStatus(8).String())

	assert.Equal(t, "sensor", telemetry.ZoneSensor.String())
	assert.Equal(t, "zone(7)", telemetry.TemperatureZone(7).String())

	assert.Equal(t, "thermal", telemetry.CategoryThermal.String())
	assert.Equal(t, "category(9)", telemetry.ErrorCategory(9).String())

	assert.Equal(t, "fatal", telemetry.ErrorFatal.String())
	assert.Equal(t, "severity(9)", telemetry.ErrorSeverity(9).String())

	assert.Equal(t, "mains", telemetry.SourceMains.String())
	assert.Equal(t, "source(9)", telemetry.PowerSource(9).String())
}
