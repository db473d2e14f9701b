package opp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidLUT reports a lookup table that fails .cube validation.
var ErrInvalidLUT = errors.New("invalid LUT")

// lutSizeMin and lutSizeMax bound LUT_3D_SIZE per the .cube format.
const (
	lutSizeMin = 2
	lutSizeMax = 256
)

// LUT is a 3D color lookup table in Resolve .cube form. Points hold RGB
// triples in red-fastest order and must contain exactly Size cubed entries.
type LUT struct {
	Title  string
	Size   int
	Points [][3]float64
}

// Validate checks the table against the .cube constraints enforced before an
// upload is attempted.
func (l *LUT) Validate() error {
	if l.Size < lutSizeMin || l.Size > lutSizeMax {
		return fmt.Errorf("%w: size %d outside %d..%d", ErrInvalidLUT, l.Size, lutSizeMin, lutSizeMax)
	}
	want := l.Size * l.Size * l.Size
	if len(l.Points) != want {
		return fmt.Errorf("%w: %d points, size %d needs %d", ErrInvalidLUT, len(l.Points), l.Size, want)
	}
	return nil
}

// EncodeCube renders the table as .cube text.
func (l *LUT) EncodeCube() []byte {
	var b bytes.Buffer
	if l.Title != "" {
		fmt.Fprintf(&b, "TITLE %q\n", l.Title)
	}
	fmt.Fprintf(&b, "LUT_3D_SIZE %d\n", l.Size)
	for _, p := range l.Points {
		fmt.Fprintf(&b, "%.6f %.6f %.6f\n", p[0], p[1], p[2])
	}
	return b.Bytes()
}

// ParseCubeLUT reads .cube text. Comments and blank lines are skipped, the
// optional DOMAIN_MIN/DOMAIN_MAX keywords are accepted and ignored.
func ParseCubeLUT(data []byte) (*LUT, error) {
	lut := &LUT{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(text, "TITLE"):
			title := strings.TrimSpace(strings.TrimPrefix(text, "TITLE"))
			lut.Title = strings.Trim(title, `"`)
		case strings.HasPrefix(text, "LUT_3D_SIZE"):
			raw := strings.TrimSpace(strings.TrimPrefix(text, "LUT_3D_SIZE"))
			size, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad size %q", ErrInvalidLUT, line, raw)
			}
			lut.Size = size
		case strings.HasPrefix(text, "LUT_1D_SIZE"):
			return nil, fmt.Errorf("%w: 1D tables are not supported", ErrInvalidLUT)
		case strings.HasPrefix(text, "DOMAIN_MIN"), strings.HasPrefix(text, "DOMAIN_MAX"):
			// Domain bounds do not affect the upload payload.
		default:
			fields := strings.Fields(text)
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: line %d: want 3 components, got %d", ErrInvalidLUT, line, len(fields))
			}
			var p [3]float64
			for i, f := range fields {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: bad component %q", ErrInvalidLUT, line, f)
				}
				p[i] = v
			}
			lut.Points = append(lut.Points, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read LUT: %w", err)
	}
	if lut.Size == 0 {
		return nil, fmt.Errorf("%w: missing LUT_3D_SIZE", ErrInvalidLUT)
	}
	if err := lut.Validate(); err != nil {
		return nil, err
	}
	return lut, nil
}
