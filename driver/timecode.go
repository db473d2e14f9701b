package driver

import (
	"context"
	"time"
)

// ReadTimecode reads the camera's current timecode.
func (d *Driver) ReadTimecode(ctx context.Context, id string) (*Timecode, error) {
	return d.timecode.ReadCurrentTimecode(ctx, id)
}

// SetTimecode jam-syncs the camera to tc.
func (d *Driver) SetTimecode(ctx context.Context, id string, tc *Timecode) error {
	return d.timecode.SetTimecode(ctx, id, tc)
}

// StartSyncSession starts a background multi-camera sync session: the
// master's timecode is pushed to every slave that drifts past tolerance.
// Only one session runs at a time.
func (d *Driver) StartSyncSession(masterID string, slaveIDs []string, tolerance time.Duration) (*SyncSession, error) {
	return d.timecode.StartSyncSession(masterID, slaveIDs, tolerance)
}

// StopSyncSession ends the active sync session.
func (d *Driver) StopSyncSession() error {
	return d.timecode.StopSyncSession()
}

// ActiveSyncSession reports the running sync session, if any.
func (d *Driver) ActiveSyncSession() (*SyncSession, bool) {
	return d.timecode.Session()
}

// SyncCameras forces one immediate sync pass over the active session's
// slaves instead of waiting for the next cadence tick.
func (d *Driver) SyncCameras(ctx context.Context) error {
	return d.timecode.SyncCameras(ctx)
}
