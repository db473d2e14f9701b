package control

import (
	"encoding/binary"
	"fmt"
)

// Opcode selects the camera action a command record requests.
type Opcode byte

const (
	OpRecordStart     Opcode = 0x01
	OpRecordStop      Opcode = 0x02
	OpRecordToggle    Opcode = 0x03
	OpFocusAuto       Opcode = 0x10
	OpFocusManual     Opcode = 0x11
	OpExposureSet     Opcode = 0x12
	OpISOSet          Opcode = 0x13
	OpWhiteBalanceSet Opcode = 0x14
	OpFrameRateSet    Opcode = 0x20
	OpResolutionSet   Opcode = 0x21
	OpCodecSet        Opcode = 0x22
	OpColorSpaceSet   Opcode = 0x23
)

func (o Opcode) String() string {
	switch o {
	case OpRecordStart:
		return "record-start"
	case OpRecordStop:
		return "record-stop"
	case OpRecordToggle:
		return "record-toggle"
	case OpFocusAuto:
		return "focus-auto"
	case OpFocusManual:
		return "focus-manual"
	case OpExposureSet:
		return "exposure-set"
	case OpISOSet:
		return "iso-set"
	case OpWhiteBalanceSet:
		return "white-balance-set"
	case OpFrameRateSet:
		return "frame-rate-set"
	case OpResolutionSet:
		return "resolution-set"
	case OpCodecSet:
		return "codec-set"
	case OpColorSpaceSet:
		return "color-space-set"
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// Command is one control action. Target is always 0 (the camera itself);
// the parameter meaning depends on the opcode.
type Command struct {
	Opcode Opcode
	Param0 uint32
	Param1 uint32
}

// CommandSize is the fixed size of a command record on the wire.
const CommandSize = 12

// EncodeCommand serializes a command record: opcode, target byte, two
// reserved bytes, then the two parameters, little-endian.
func EncodeCommand(cmd Command) []byte {
	buf := make([]byte, CommandSize)
	buf[0] = byte(cmd.Opcode)
	binary.LittleEndian.PutUint32(buf[4:8], cmd.Param0)
	binary.LittleEndian.PutUint32(buf[8:12], cmd.Param1)
	return buf
}

// DecodeCommand parses a command record. Used by tests and diagnostics; the
// camera itself only ever consumes commands.
func DecodeCommand(raw []byte) (Command, error) {
	if len(raw) != CommandSize {
		return Command{}, fmt.Errorf("camera command record: want %d bytes, got %d", CommandSize, len(raw))
	}
	return Command{
		Opcode: Opcode(raw[0]),
		Param0: binary.LittleEndian.Uint32(raw[4:8]),
		Param1: binary.LittleEndian.Uint32(raw[8:12]),
	}, nil
}

// CameraSettings is the decoded settings record. Fields the camera did not
// report are nil, never a default that could be mistaken for a reading.
type CameraSettings struct {
	Recording    bool        `json:"recording"`
	FrameRate    *FrameRate  `json:"frameRate,omitempty"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	Codec        *Codec      `json:"codec,omitempty"`
	ColorSpace   *ColorSpace `json:"colorSpace,omitempty"`
	ISO          *uint32     `json:"iso,omitempty"`
	ExposureUS   *uint32     `json:"exposureUs,omitempty"`
	WhiteBalance *uint16     `json:"whiteBalanceK,omitempty"`
}

// SettingsSize is the fixed size of a settings record on the wire.
const SettingsSize = 16

// Presence mask bits of the settings record.
const (
	maskFrameRate = 1 << iota
	maskResolution
	maskCodec
	maskColorSpace
	maskISO
	maskExposure
	maskWhiteBalance
)

// EncodeSettings serializes a settings record, deriving the presence mask
// from which fields are set.
func EncodeSettings(s *CameraSettings) []byte {
	buf := make([]byte, SettingsSize)
	if s.Recording {
		buf[0] = 1
	}
	var mask byte
	if s.FrameRate != nil {
		mask |= maskFrameRate
		buf[2] = byte(*s.FrameRate)
	}
	if s.Resolution != nil {
		mask |= maskResolution
		buf[3] = byte(*s.Resolution)
	}
	if s.Codec != nil {
		mask |= maskCodec
		buf[4] = byte(*s.Codec)
	}
	if s.ColorSpace != nil {
		mask |= maskColorSpace
		buf[5] = byte(*s.ColorSpace)
	}
	if s.ISO != nil {
		mask |= maskISO
		binary.LittleEndian.PutUint32(buf[6:10], *s.ISO)
	}
	if s.ExposureUS != nil {
		mask |= maskExposure
		binary.LittleEndian.PutUint32(buf[10:14], *s.ExposureUS)
	}
	if s.WhiteBalance != nil {
		mask |= maskWhiteBalance
		binary.LittleEndian.PutUint16(buf[14:16], *s.WhiteBalance)
	}
	buf[1] = mask
	return buf
}

// DecodeSettings parses a settings record. Fields whose presence bit is
// clear stay nil.
func DecodeSettings(raw []byte) (*CameraSettings, error) {
	if len(raw) != SettingsSize {
		return nil, fmt.Errorf("camera settings record: want %d bytes, got %d", SettingsSize, len(raw))
	}
	s := &CameraSettings{Recording: raw[0] != 0}
	mask := raw[1]
	if mask&maskFrameRate != 0 {
		v := FrameRate(raw[2])
		s.FrameRate = &v
	}
	if mask&maskResolution != 0 {
		v := Resolution(raw[3])
		s.Resolution = &v
	}
	if mask&maskCodec != 0 {
		v := Codec(raw[4])
		s.Codec = &v
	}
	if mask&maskColorSpace != 0 {
		v := ColorSpace(raw[5])
		s.ColorSpace = &v
	}
	if mask&maskISO != 0 {
		v := binary.LittleEndian.Uint32(raw[6:10])
		s.ISO = &v
	}
	if mask&maskExposure != 0 {
		v := binary.LittleEndian.Uint32(raw[10:14])
		s.ExposureUS = &v
	}
	if mask&maskWhiteBalance != 0 {
		v := binary.LittleEndian.Uint16(raw[14:16])
		s.WhiteBalance = &v
	}
	return s, nil
}
