package control

import "fmt"

// FrameRate is the camera's project frame rate code.
type FrameRate byte

const (
	FrameRate23_98 FrameRate = iota
	FrameRate24
	FrameRate25
	FrameRate29_97
	FrameRate30
	FrameRate50
	FrameRate59_94
	FrameRate60
)

func (f FrameRate) String() string {
	switch f {
	case FrameRate23_98:
		return "23.98"
	case FrameRate24:
		return "24"
	case FrameRate25:
		return "25"
	case FrameRate29_97:
		return "29.97"
	case FrameRate30:
		return "30"
	case FrameRate50:
		return "50"
	case FrameRate59_94:
		return "59.94"
	case FrameRate60:
		return "60"
	}
	return fmt.Sprintf("frame-rate(0x%02x)", byte(f))
}

// Resolution is the recording resolution code.
type Resolution byte

const (
	ResolutionHD Resolution = iota
	Resolution2KDCI
	ResolutionUHD
	Resolution4KDCI
	Resolution6K
	Resolution8K
)

func (r Resolution) String() string {
	switch r {
	case ResolutionHD:
		return "1920x1080"
	case Resolution2KDCI:
		return "2048x1080"
	case ResolutionUHD:
		return "3840x2160"
	case Resolution4KDCI:
		return "4096x2160"
	case Resolution6K:
		return "6144x3456"
	case Resolution8K:
		return "7680x4320"
	}
	return fmt.Sprintf("resolution(0x%02x)", byte(r))
}

// Codec is the recording codec code. Constant-bitrate BRAW variants carry
// their compression ratio, constant-quality variants their Q level.
type Codec byte

const (
	CodecBRAW3to1 Codec = iota
	CodecBRAW5to1
	CodecBRAW8to1
	CodecBRAW12to1
	CodecBRAWQ0
	CodecBRAWQ1
	CodecBRAWQ3
	CodecBRAWQ5
	CodecProResHQ
	CodecProRes422
	CodecProResLT
	CodecProResProxy
)

func (c Codec) String() string {
	switch c {
	case CodecBRAW3to1:
		return "BRAW 3:1"
	case CodecBRAW5to1:
		return "BRAW 5:1"
	case CodecBRAW8to1:
		return "BRAW 8:1"
	case CodecBRAW12to1:
		return "BRAW 12:1"
	case CodecBRAWQ0:
		return "BRAW Q0"
	case CodecBRAWQ1:
		return "BRAW Q1"
	case CodecBRAWQ3:
		return "BRAW Q3"
	case CodecBRAWQ5:
		return "BRAW Q5"
	case CodecProResHQ:
		return "ProRes 422 HQ"
	case CodecProRes422:
		return "ProRes 422"
	case CodecProResLT:
		return "ProRes 422 LT"
	case CodecProResProxy:
		return "ProRes 422 Proxy"
	}
	return fmt.Sprintf("codec(0x%02x)", byte(c))
}

// ColorSpace is the recording color space code.
type ColorSpace byte

const (
	ColorSpaceFilm ColorSpace = iota
	ColorSpaceVideo
	ColorSpaceExtendedVideo
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceFilm:
		return "Film"
	case ColorSpaceVideo:
		return "Video"
	case ColorSpaceExtendedVideo:
		return "Extended Video"
	}
	return fmt.Sprintf("color-space(0x%02x)", byte(c))
}
