// Package driver is the camera driver's front door. New wires the
// connection manager and every protocol module together once, and the
// Driver exposes the whole command surface: scanning and connecting,
// camera control, file transfer, uploads, firmware updates, timecode and
// status monitoring. All state lives in the composed modules; the driver
// persists nothing.
package driver

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/control"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/dfu"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/ftp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/opp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/telemetry"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/timecode"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/manager"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// Driver composes the manager and the protocol modules behind one API.
type Driver struct {
	cfg    *config.Config
	logger *logrus.Logger

	manager   *manager.Manager
	control   *control.Controller
	files     *ftp.Client
	uploads   *opp.Client
	updater   *dfu.Updater
	timecode  *timecode.Service
	telemetry *telemetry.Monitor

	closeOnce sync.Once
}

// New builds a driver. A nil cfg uses defaults; a nil logger logs to a
// fresh default logger. Every module registers its disconnect cleanup with
// the manager, so dropping a device tears its sessions down everywhere.
func New(cfg *config.Config, logger *logrus.Logger) *Driver {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := manager.New(cfg, logger)
	return &Driver{
		cfg:       cfg,
		logger:    logger,
		manager:   m,
		control:   control.New(m, cfg, logger),
		files:     ftp.New(m, cfg, logger),
		uploads:   opp.New(m, cfg, logger),
		updater:   dfu.New(m, cfg, logger),
		timecode:  timecode.New(m, cfg, logger),
		telemetry: telemetry.New(m, cfg, logger),
	}
}

// StartScan begins device discovery. Discovered cameras surface through
// Events, OnDeviceDiscovered and Devices.
func (d *Driver) StartScan(ctx context.Context, opts *ScanOptions) error {
	return d.manager.StartScan(ctx, opts)
}

// StopScan ends the active scan, if any.
func (d *Driver) StopScan() {
	d.manager.StopScan()
}

// ScanState reports the discovery lifecycle state.
func (d *Driver) ScanState() ScanState {
	return d.manager.ScanState()
}

// Devices returns a snapshot of every known device, sorted by id.
func (d *Driver) Devices() []Device {
	return d.manager.Devices()
}

// Device returns a snapshot of one device.
func (d *Driver) Device(id string) (Device, bool) {
	return d.manager.Device(id)
}

// Events returns the discovery event stream. Oldest events are dropped
// when the consumer falls behind.
func (d *Driver) Events() <-chan DeviceEvent {
	return d.manager.Events()
}

// ConnectToDevice dials the camera and discovers its services.
func (d *Driver) ConnectToDevice(ctx context.Context, id string, opts *ConnectOptions) error {
	return d.manager.Connect(ctx, id, opts)
}

// DisconnectFromDevice drops the camera's link. Every module's cleanup
// hook runs before this returns.
func (d *Driver) DisconnectFromDevice(id string) error {
	return d.manager.Disconnect(id)
}

// ConnectionState reports the device's connection lifecycle state.
func (d *Driver) ConnectionState(id string) ConnectionState {
	return d.manager.ConnectionState(id)
}

// OnDeviceDiscovered registers fn for newly discovered or updated devices.
func (d *Driver) OnDeviceDiscovered(fn func(Device)) Unsubscribe {
	return d.manager.OnDeviceDiscovered(fn)
}

// OnConnectionStateChanged registers fn for connection lifecycle changes.
func (d *Driver) OnConnectionStateChanged(fn func(deviceID string, state ConnectionState)) Unsubscribe {
	return d.manager.OnConnectionStateChanged(fn)
}

// Close stops monitoring and the sync session, disconnects every device,
// and shuts the manager down. Safe to call more than once.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if stopErr := d.timecode.StopSyncSession(); stopErr != nil && !errors.Is(stopErr, timecode.ErrNoSession) {
			d.logger.WithError(stopErr).Warn("Sync session did not stop cleanly")
		}
		_ = d.telemetry.Close()
		err = d.manager.Close()
		d.logger.Info("Driver closed")
	})
	return err
}
