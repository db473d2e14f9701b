package telemetry

import (
	"fmt"
	"time"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// The camera serves six status records, each on its own characteristic.
// All integers are little-endian; timestamps are epoch seconds.

// RecordingState is the camera's transport state byte.
type RecordingState byte

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingPaused
)

func (s RecordingState) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingActive:
		return "recording"
	case RecordingPaused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// RecordingStatus is the recording record:
// [state][duration u32][clipCount u16][remaining u32].
type RecordingStatus struct {
	State     RecordingState `json:"state"`
	Duration  time.Duration  `json:"duration"` // u32 seconds on the wire
	ClipCount uint16         `json:"clipCount"`

	// Remaining is the capacity left on the active media at current
	// settings.
	Remaining time.Duration `json:"remaining"`
}

// DecodeRecordingStatus parses a recording record.
func DecodeRecordingStatus(payload []byte) (*RecordingStatus, error) {
	r := gatt.NewReader(payload)
	st := &RecordingStatus{
		State:     RecordingState(r.U8()),
		Duration:  time.Duration(r.U32()) * time.Second,
		ClipCount: r.U16(),
		Remaining: time.Duration(r.U32()) * time.Second,
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("recording record: %w", err)
	}
	return st, nil
}

// EncodeRecordingStatus serializes a recording record back to wire form.
func EncodeRecordingStatus(st *RecordingStatus) []byte {
	payload := []byte{byte(st.State)}
	payload = gatt.AppendU32(payload, uint32(st.Duration/time.Second))
	payload = gatt.AppendU16(payload, st.ClipCount)
	return gatt.AppendU32(payload, uint32(st.Remaining/time.Second))
}

// MediaStatus is the storage record's media state byte.
type MediaStatus byte

const (
	MediaNone MediaStatus = iota
	MediaReady
	MediaReadOnly
	MediaError
)

func (s MediaStatus) String() string {
	switch s {
	case MediaNone:
		return "none"
	case MediaReady:
		return "ready"
	case MediaReadOnly:
		return "read-only"
	case MediaError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// StorageStatus is the storage record: [total u64][free u64][used u64]
// [mediaCount u16][mediaStatus][writeSpeed f32][readSpeed f32][health]
// [estRecordingTime u32][lastWrite u64].
type StorageStatus struct {
	TotalBytes  uint64      `json:"totalBytes"`
	FreeBytes   uint64      `json:"freeBytes"`
	UsedBytes   uint64      `json:"usedBytes"`
	MediaCount  uint16      `json:"mediaCount"`
	MediaStatus MediaStatus `json:"mediaStatus"`
	WriteSpeed  float32     `json:"writeSpeed"` // megabytes per second
	ReadSpeed   float32     `json:"readSpeed"`
	Health      uint8       `json:"health"` // percent

	// EstRecordingTime is how long the free space lasts at current
	// settings.
	EstRecordingTime time.Duration `json:"estRecordingTime"`

	// LastWrite is zero when the media has never been written.
	LastWrite time.Time `json:"lastWrite"`
}

// DecodeStorageStatus parses a storage record.
func DecodeStorageStatus(payload []byte) (*StorageStatus, error) {
	r := gatt.NewReader(payload)
	st := &StorageStatus{
		TotalBytes:       r.U64(),
		FreeBytes:        r.U64(),
		UsedBytes:        r.U64(),
		MediaCount:       r.U16(),
		MediaStatus:      MediaStatus(r.U8()),
		WriteSpeed:       r.F32(),
		ReadSpeed:        r.F32(),
		Health:           r.U8(),
		EstRecordingTime: time.Duration(r.U32()) * time.Second,
	}
	if epoch := r.U64(); epoch != 0 && r.Err() == nil {
		st.LastWrite = time.Unix(int64(epoch), 0).UTC()
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("storage record: %w", err)
	}
	return st, nil
}

// EncodeStorageStatus serializes a storage record back to wire form.
func EncodeStorageStatus(st *StorageStatus) []byte {
	payload := gatt.AppendU64(nil, st.TotalBytes)
	payload = gatt.AppendU64(payload, st.FreeBytes)
	payload = gatt.AppendU64(payload, st.UsedBytes)
	payload = gatt.AppendU16(payload, st.MediaCount)
	payload = append(payload, byte(st.MediaStatus))
	payload = gatt.AppendF32(payload, st.WriteSpeed)
	payload = gatt.AppendF32(payload, st.ReadSpeed)
	payload = append(payload, st.Health)
	payload = gatt.AppendU32(payload, uint32(st.EstRecordingTime/time.Second))
	var epoch uint64
	if !st.LastWrite.IsZero() {
		epoch = uint64(st.LastWrite.Unix())
	}
	return gatt.AppendU64(payload, epoch)
}

// TemperatureZone identifies which part of the camera a reading came from.
type TemperatureZone byte

const (
	ZoneCore TemperatureZone = iota
	ZoneSensor
	ZoneBattery
	ZoneMedia
)

func (z TemperatureZone) String() string {
	switch z {
	case ZoneCore:
		return "core"
	case ZoneSensor:
		return "sensor"
	case ZoneBattery:
		return "battery"
	case ZoneMedia:
		return "media"
	}
	return fmt.Sprintf("zone(%d)", byte(z))
}

// Severity grades a temperature reading.
type Severity string

const (
	SeverityNormal    Severity = "normal"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Temperature thresholds in degrees Celsius. A reading on a boundary takes
// the higher severity.
const (
	tempWarning   float32 = 60
	tempCritical  float32 = 75
	tempEmergency float32 = 85
)

// SeverityFor grades a temperature against the fixed thresholds.
func SeverityFor(celsius float32) Severity {
	switch {
	case celsius >= tempEmergency:
		return SeverityEmergency
	case celsius >= tempCritical:
		return SeverityCritical
	case celsius >= tempWarning:
		return SeverityWarning
	}
	return SeverityNormal
}

// TemperatureReading is one zone's temperature. Severity is derived from
// the fixed thresholds, it is not on the wire.
type TemperatureReading struct {
	Zone     TemperatureZone `json:"zone"`
	Celsius  float32         `json:"celsius"`
	Severity Severity        `json:"severity"`
}

// DecodeTemperatures parses a temperature record:
// [count] then count x [zone][celsius f32].
func DecodeTemperatures(payload []byte) ([]TemperatureReading, error) {
	r := gatt.NewReader(payload)
	count := int(r.U8())
	readings := make([]TemperatureReading, 0, count)
	for i := 0; i < count && r.Err() == nil; i++ {
		reading := TemperatureReading{
			Zone:    TemperatureZone(r.U8()),
			Celsius: r.F32(),
		}
		reading.Severity = SeverityFor(reading.Celsius)
		readings = append(readings, reading)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("temperature record: %w", err)
	}
	return readings, nil
}

// EncodeTemperatures serializes a temperature record back to wire form.
func EncodeTemperatures(readings []TemperatureReading) []byte {
	payload := []byte{byte(len(readings))}
	for _, reading := range readings {
		payload = append(payload, byte(reading.Zone))
		payload = gatt.AppendF32(payload, reading.Celsius)
	}
	return payload
}

// ErrorCategory classifies a camera error.
type ErrorCategory byte

const (
	CategoryGeneral ErrorCategory = iota
	CategoryMedia
	CategoryPower
	CategoryThermal
	CategoryFirmware
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryMedia:
		return "media"
	case CategoryPower:
		return "power"
	case CategoryThermal:
		return "thermal"
	case CategoryFirmware:
		return "firmware"
	}
	return fmt.Sprintf("category(%d)", byte(c))
}

// ErrorSeverity is the camera's own grading of an error.
type ErrorSeverity byte

const (
	ErrorInfo ErrorSeverity = iota
	ErrorWarning
	ErrorSerious
	ErrorFatal
)

func (s ErrorSeverity) String() string {
	switch s {
	case ErrorInfo:
		return "info"
	case ErrorWarning:
		return "warning"
	case ErrorSerious:
		return "error"
	case ErrorFatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", byte(s))
}

// CameraError is one active error as the camera reports it.
type CameraError struct {
	Category  ErrorCategory `json:"category"`
	Code      uint16        `json:"code"`
	Severity  ErrorSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

// DecodeCameraErrors parses an error record:
// [count] then count x [category][code u16][severity][timestamp u64].
func DecodeCameraErrors(payload []byte) ([]CameraError, error) {
	r := gatt.NewReader(payload)
	count := int(r.U8())
	out := make([]CameraError, 0, count)
	for i := 0; i < count && r.Err() == nil; i++ {
		e := CameraError{
			Category: ErrorCategory(r.U8()),
			Code:     r.U16(),
			Severity: ErrorSeverity(r.U8()),
		}
		if epoch := r.U64(); epoch != 0 && r.Err() == nil {
			e.Timestamp = time.Unix(int64(epoch), 0).UTC()
		}
		out = append(out, e)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("camera error record: %w", err)
	}
	return out, nil
}

// EncodeCameraErrors serializes an error record back to wire form.
func EncodeCameraErrors(errs []CameraError) []byte {
	payload := []byte{byte(len(errs))}
	for _, e := range errs {
		payload = append(payload, byte(e.Category))
		payload = gatt.AppendU16(payload, e.Code)
		payload = append(payload, byte(e.Severity))
		var epoch uint64
		if !e.Timestamp.IsZero() {
			epoch = uint64(e.Timestamp.Unix())
		}
		payload = gatt.AppendU64(payload, epoch)
	}
	return payload
}

// SystemStatus is the system record: [health][uptime u32].
type SystemStatus struct {
	Health uint8         `json:"health"` // percent
	Uptime time.Duration `json:"uptime"` // u32 seconds on the wire
}

// DecodeSystemStatus parses a system record.
func DecodeSystemStatus(payload []byte) (*SystemStatus, error) {
	r := gatt.NewReader(payload)
	st := &SystemStatus{
		Health: r.U8(),
		Uptime: time.Duration(r.U32()) * time.Second,
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("system record: %w", err)
	}
	return st, nil
}

// EncodeSystemStatus serializes a system record back to wire form.
func EncodeSystemStatus(st *SystemStatus) []byte {
	payload := []byte{st.Health}
	return gatt.AppendU32(payload, uint32(st.Uptime/time.Second))
}

// PowerSource is where the camera draws power from.
type PowerSource byte

const (
	SourceBattery PowerSource = iota
	SourceMains
	SourceUSB
)

func (s PowerSource) String() string {
	switch s {
	case SourceBattery:
		return "battery"
	case SourceMains:
		return "mains"
	case SourceUSB:
		return "usb"
	}
	return fmt.Sprintf("source(%d)", byte(s))
}

// PowerStatus is the power record: [battery][charging][voltage f32][source].
type PowerStatus struct {
	BatteryPercent uint8       `json:"batteryPercent"`
	Charging       bool        `json:"charging"`
	Voltage        float32     `json:"voltage"`
	Source         PowerSource `json:"source"`
}

// DecodePowerStatus parses a power record.
func DecodePowerStatus(payload []byte) (*PowerStatus, error) {
	r := gatt.NewReader(payload)
	st := &PowerStatus{
		BatteryPercent: r.U8(),
		Charging:       r.U8() != 0,
		Voltage:        r.F32(),
		Source:         PowerSource(r.U8()),
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("power record: %w", err)
	}
	return st, nil
}

// EncodePowerStatus serializes a power record back to wire form.
func EncodePowerStatus(st *PowerStatus) []byte {
	payload := []byte{st.BatteryPercent}
	if st.Charging {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = gatt.AppendF32(payload, st.Voltage)
	return append(payload, byte(st.Source))
}

// DecodeBatteryLevel parses the standard battery level characteristic, a
// single percent byte.
func DecodeBatteryLevel(payload []byte) (uint8, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("battery level: empty payload")
	}
	return payload[0], nil
}
