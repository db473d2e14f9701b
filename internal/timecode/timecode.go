// Package timecode reads and writes the camera's timecode record and keeps a
// group of cameras locked to one master clock.
//
// The wire record is five bytes. A sync session designates a master whose
// timecode is pushed to every slave; a background loop then measures each
// slave's drift against the master and flags the ones outside tolerance.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Format identifies the frame rate family a timecode counts in.
type Format byte

const (
	Format24 Format = iota
	Format25
	Format30
	Format50
	Format60
)

// FPS returns the nominal frames per second of the format.
func (f Format) FPS() float64 {
	switch f {
	case Format24:
		return 24
	case Format25:
		return 25
	case Format30:
		return 30
	case Format50:
		return 50
	case Format60:
		return 60
	}
	return 0
}

func (f Format) String() string {
	if fps := f.FPS(); fps > 0 {
		return fmt.Sprintf("%gfps", fps)
	}
	return fmt.Sprintf("format(%d)", byte(f))
}

// frameBound is the first invalid frame number for the format. Drop-frame
// only changes which frame numbers are skipped, not the counting range.
func (f Format) frameBound() uint8 {
	return uint8(f.FPS())
}

// timecodeSize is the wire record length:
// [hours][minutes][seconds][frames][flags].
const timecodeSize = 5

const (
	flagDropFrame = 1 << 0
	flagRunning   = 1 << 1

	// the format code rides in flag bits 2..4
	formatShift = 2
	formatMask  = 0x07
)

// ErrInvalidTimecode reports a timecode whose fields cannot be put on the
// wire.
var ErrInvalidTimecode = errors.New("invalid timecode")

// Timecode is one camera clock reading.
type Timecode struct {
	Hours     uint8  `json:"hours"`
	Minutes   uint8  `json:"minutes"`
	Seconds   uint8  `json:"seconds"`
	Frames    uint8  `json:"frames"`
	DropFrame bool   `json:"dropFrame"`
	Running   bool   `json:"running"`
	Format    Format `json:"format"`

	// CapturedAt is when the record was read from the device. It does not
	// go on the wire.
	CapturedAt time.Time `json:"capturedAt"`
}

// String renders the conventional display form. Drop-frame timecode uses a
// semicolon before the frame count.
func (tc *Timecode) String() string {
	sep := ":"
	if tc.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", tc.Hours, tc.Minutes, tc.Seconds, sep, tc.Frames)
}

// Validate checks that every field fits its wire range.
func (tc *Timecode) Validate() error {
	if tc.Hours > 23 {
		return fmt.Errorf("%w: hours %d out of range", ErrInvalidTimecode, tc.Hours)
	}
	if tc.Minutes > 59 {
		return fmt.Errorf("%w: minutes %d out of range", ErrInvalidTimecode, tc.Minutes)
	}
	if tc.Seconds > 59 {
		return fmt.Errorf("%w: seconds %d out of range", ErrInvalidTimecode, tc.Seconds)
	}
	if bound := tc.Format.frameBound(); bound == 0 {
		return fmt.Errorf("%w: unknown format code %d", ErrInvalidTimecode, byte(tc.Format))
	} else if tc.Frames >= bound {
		return fmt.Errorf("%w: frame %d out of range for %s", ErrInvalidTimecode, tc.Frames, tc.Format)
	}
	return nil
}

// Encode puts the timecode on the wire.
func (tc *Timecode) Encode() ([]byte, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	flags := byte(tc.Format) << formatShift
	if tc.DropFrame {
		flags |= flagDropFrame
	}
	if tc.Running {
		flags |= flagRunning
	}
	return []byte{tc.Hours, tc.Minutes, tc.Seconds, tc.Frames, flags}, nil
}

// DecodeTimecode parses a wire record. Field ranges are not enforced on
// decode; a slightly out-of-spec camera reading is still worth surfacing.
func DecodeTimecode(payload []byte) (*Timecode, error) {
	if len(payload) != timecodeSize {
		return nil, fmt.Errorf("timecode record: want %d bytes, got %d", timecodeSize, len(payload))
	}
	flags := payload[4]
	format := Format(flags >> formatShift & formatMask)
	if format.FPS() == 0 {
		return nil, fmt.Errorf("timecode record: unknown format code %d", byte(format))
	}
	return &Timecode{
		Hours:     payload[0],
		Minutes:   payload[1],
		Seconds:   payload[2],
		Frames:    payload[3],
		DropFrame: flags&flagDropFrame != 0,
		Running:   flags&flagRunning != 0,
		Format:    format,
	}, nil
}

// Milliseconds converts the timecode to milliseconds since midnight, with
// the frame count resolved through the format's frame rate.
func (tc *Timecode) Milliseconds() int64 {
	ms := (int64(tc.Hours)*3600 + int64(tc.Minutes)*60 + int64(tc.Seconds)) * 1000
	if fps := tc.Format.FPS(); fps > 0 {
		ms += int64(math.Round(float64(tc.Frames) * 1000 / fps))
	}
	return ms
}

// Offset is the signed clock difference between this reading and a
// reference, positive when this clock is ahead.
func (tc *Timecode) Offset(ref *Timecode) time.Duration {
	return time.Duration(tc.Milliseconds()-ref.Milliseconds()) * time.Millisecond
}
