package driver

// StartStatusMonitoring begins periodic status polling of the device.
// A nil opts polls at the configured monitor interval.
func (d *Driver) StartStatusMonitoring(id string, opts *MonitorOptions) error {
	return d.telemetry.StartStatusMonitoring(id, opts)
}

// StopStatusMonitoring ends the device's monitoring session and discards
// its snapshot.
func (d *Driver) StopStatusMonitoring(id string) error {
	return d.telemetry.StopStatusMonitoring(id)
}

// LatestStatus returns the device's most recent status snapshot.
func (d *Driver) LatestStatus(id string) (*StatusSnapshot, bool) {
	return d.telemetry.LatestStatus(id)
}

// OnStatusUpdated registers fn for every new snapshot of the device. The
// registration survives monitoring restarts.
func (d *Driver) OnStatusUpdated(id string, fn func(*StatusSnapshot)) Unsubscribe {
	return d.telemetry.OnStatusUpdated(id, fn)
}

// OnTemperatureAlert registers fn for readings at warning severity or
// above, from any monitored device.
func (d *Driver) OnTemperatureAlert(fn func(TemperatureAlert)) Unsubscribe {
	return d.telemetry.OnTemperatureAlert(fn)
}

// OnCameraError registers fn for newly seen or reappearing camera errors,
// from any monitored device.
func (d *Driver) OnCameraError(fn func(CameraErrorEvent)) Unsubscribe {
	return d.telemetry.OnCameraError(fn)
}

// ErrorHistory returns the device's accumulated error records, oldest
// first.
func (d *Driver) ErrorHistory(id string) []ErrorRecord {
	return d.telemetry.ErrorHistory(id)
}

// ClearResolvedErrors drops inactive records from the device's error
// history and reports how many went.
func (d *Driver) ClearResolvedErrors(id string) int {
	return d.telemetry.ClearResolvedErrors(id)
}
