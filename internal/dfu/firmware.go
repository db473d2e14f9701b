package dfu

import (
	"errors"
	"fmt"
	"hash/crc32"
)

// ErrInvalidFirmware reports an image that fails pre-flight validation.
var ErrInvalidFirmware = errors.New("invalid firmware file")

// FirmwareFile is a firmware image staged for transfer.
type FirmwareFile struct {
	Name    string
	Version string
	Data    []byte

	// Size is the declared image size and must match len(Data).
	Size uint64

	// Checksum is the CRC32 (IEEE) of Data. Zero skips the check.
	Checksum uint32
}

// ValidateFirmwareFile checks the image before anything touches the device.
// StartDFU is never written for an image that fails here.
func ValidateFirmwareFile(fw *FirmwareFile) error {
	if fw == nil {
		return fmt.Errorf("%w: no file", ErrInvalidFirmware)
	}
	if len(fw.Data) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidFirmware)
	}
	if fw.Size != uint64(len(fw.Data)) {
		return fmt.Errorf("%w: declared size %d, image has %d bytes", ErrInvalidFirmware, fw.Size, len(fw.Data))
	}
	if fw.Checksum != 0 {
		if got := crc32.ChecksumIEEE(fw.Data); got != fw.Checksum {
			return fmt.Errorf("%w: checksum 0x%08x, image has 0x%08x", ErrInvalidFirmware, fw.Checksum, got)
		}
	}
	return nil
}
