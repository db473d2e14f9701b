package driver

import (
	"context"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/dfu"
)

// FirmwareVersion reads the camera's installed firmware version string.
func (d *Driver) FirmwareVersion(ctx context.Context, id string) (string, error) {
	return d.updater.Version(ctx, id)
}

// PerformDFUUpdate runs a firmware update end to end and blocks until the
// camera activates the new image or the update fails. The device is held
// exclusively for the duration, so concurrent transfers or a second update
// fail with ErrDeviceBusy. onProgress and onError may be nil.
func (d *Driver) PerformDFUUpdate(ctx context.Context, id string, fw *FirmwareFile, opts *UpdateOptions, onProgress UpdateProgressFunc, onError UpdateErrorFunc) error {
	return d.updater.Start(ctx, id, fw, opts, onProgress, onError)
}

// CancelDFUUpdate aborts the device's in-flight update.
func (d *Driver) CancelDFUUpdate(id string) error {
	return d.updater.Cancel(id)
}

// UpdateProgressState reports the device's current update state, if an
// update is running.
func (d *Driver) UpdateProgressState(id string) (UpdateState, bool) {
	return d.updater.State(id)
}

// ValidateFirmwareFile checks a firmware image before an update is attempted.
func ValidateFirmwareFile(fw *FirmwareFile) error {
	return dfu.ValidateFirmwareFile(fw)
}
