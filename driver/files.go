package driver

import (
	"context"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/opp"
)

// ListDirectory lists the camera directory at dir.
func (d *Driver) ListDirectory(ctx context.Context, id, dir string) (*DirectoryListing, error) {
	return d.files.ListDirectory(ctx, id, dir)
}

// GetFileInfo returns metadata for one remote path.
func (d *Driver) GetFileInfo(ctx context.Context, id, filePath string) (*FileInfo, error) {
	return d.files.GetFileInfo(ctx, id, filePath)
}

// DownloadFile pulls a file off the camera. Progress callbacks fire per
// received chunk; a nil onProgress is fine.
func (d *Driver) DownloadFile(ctx context.Context, id, remotePath string, opts *DownloadOptions, onProgress TransferProgressFunc) ([]byte, error) {
	return d.files.DownloadFile(ctx, id, remotePath, opts, onProgress)
}

// CancelTransfer aborts an in-flight download of remotePath.
func (d *Driver) CancelTransfer(id, remotePath string) error {
	return d.files.CancelTransfer(id, remotePath)
}

// ActiveTransfers lists the device's in-flight downloads.
func (d *Driver) ActiveTransfers(id string) []TransferItem {
	return d.files.ActiveTransfers(id)
}

// UploadFile pushes data to remoteDir/name on the camera.
func (d *Driver) UploadFile(ctx context.Context, id, remoteDir, name string, data []byte, opts *UploadOptions, onProgress UploadProgressFunc) error {
	return d.uploads.UploadFile(ctx, id, remoteDir, name, data, opts, onProgress)
}

// UploadLUT installs a parsed LUT into the camera's LUT directory.
func (d *Driver) UploadLUT(ctx context.Context, id, name string, lut *LUT) error {
	return d.uploads.UploadLUT(ctx, id, name, lut)
}

// UploadPreset installs a settings preset on the camera.
func (d *Driver) UploadPreset(ctx context.Context, id, name string, preset *CameraSettings) error {
	return d.uploads.UploadPreset(ctx, id, name, preset)
}

// UploadConfigFile marshals doc to YAML and pushes it to the camera's
// config directory.
func (d *Driver) UploadConfigFile(ctx context.Context, id, name string, doc any) error {
	return d.uploads.UploadConfigFile(ctx, id, name, doc)
}

// AddToQueue enqueues an upload for background processing and returns its
// queue id.
func (d *Driver) AddToQueue(req UploadRequest) (string, error) {
	return d.uploads.AddToQueue(req)
}

// ProcessQueue drains the upload queue until it is empty or ctx ends.
func (d *Driver) ProcessQueue(ctx context.Context) error {
	return d.uploads.ProcessQueue(ctx)
}

// PauseQueue stops the queue from starting new uploads.
func (d *Driver) PauseQueue() {
	d.uploads.PauseQueue()
}

// ResumeQueue lets a paused queue start uploads again.
func (d *Driver) ResumeQueue() {
	d.uploads.ResumeQueue()
}

// QueueSnapshot lists every queue entry in insertion order, terminal
// entries included.
func (d *Driver) QueueSnapshot() []QueueItem {
	return d.uploads.QueueSnapshot()
}

// ParseCubeLUT parses a .cube color lookup table.
func ParseCubeLUT(data []byte) (*LUT, error) {
	return opp.ParseCubeLUT(data)
}
