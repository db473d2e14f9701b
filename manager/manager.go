// Package manager owns device discovery and connection lifecycle: it scans
// for cameras, connects and disconnects them, tracks per-device state, and
// hands protocol modules their transport. Protocol modules register cleanup
// hooks here so a disconnect, requested or not, tears their sessions down.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt/goble"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/groutine"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/ringchan"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

const deviceEventBuffer = 100

// Conn is the platform connection surface the manager needs: the transport
// plus link lifetime and the discovered profile.
type Conn interface {
	gatt.Transport
	Disconnected() <-chan struct{}
	DiscoveredServices() []string
	Close() error
}

// Platform seams, swappable in tests so no radio is required.
var (
	platformCheck = func() error {
		_, err := goble.Platform()
		return err
	}
	platformScan = func(ctx context.Context, allowDup bool, handler func(goble.Advertisement)) error {
		return goble.Scan(ctx, allowDup, handler)
	}
	platformConnect = func(ctx context.Context, deviceID string, opts goble.ConnectOptions, logger *logrus.Logger) (Conn, error) {
		return goble.Connect(ctx, deviceID, opts, logger)
	}
)

// ConnectOptions configures a single connection attempt.
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

type deviceEntry struct {
	mu      sync.Mutex
	info    Device
	state   ConnectionState
	conn    Conn
	guardOp string         // active exclusive operation, empty when free
	shared  map[string]int // counted shared operations, keyed by op name
}

func newDeviceEntry(id string) *deviceEntry {
	return &deviceEntry{
		info:  Device{ID: id},
		state: StateDisconnected,
	}
}

type cleanupHook struct {
	name string
	fn   func(deviceID string)
}

// Manager tracks every known device and the one active scan.
type Manager struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu         sync.Mutex
	closed     bool
	scanState  ScanState
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	cleanups   []cleanupHook

	devices *hashmap.Map[string, *deviceEntry]
	events  *ringchan.RingChannel[DeviceEvent]

	subsMu        sync.Mutex
	nextSubID     uint64
	discoverySubs map[uint64]func(Device)
	stateSubs     map[uint64]func(deviceID string, state ConnectionState)
}

// New creates a manager. A nil cfg uses defaults; a nil logger logs to a
// fresh default logger.
func New(cfg *config.Config, logger *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		cfg:           cfg,
		logger:        logger,
		scanState:     ScanStopped,
		devices:       hashmap.New[string, *deviceEntry](),
		events:        ringchan.New[DeviceEvent](deviceEventBuffer),
		discoverySubs: make(map[uint64]func(Device)),
		stateSubs:     make(map[uint64]func(string, ConnectionState)),
	}
}

// Events returns the discovery event stream. Oldest events are dropped when
// the consumer falls behind.
func (m *Manager) Events() <-chan DeviceEvent {
	return m.events.C()
}

// Devices returns a snapshot of every known device, sorted by id.
func (m *Manager) Devices() []Device {
	devices := make([]Device, 0, m.devices.Len())
	m.devices.Range(func(_ string, entry *deviceEntry) bool {
		entry.mu.Lock()
		devices = append(devices, entry.info)
		entry.mu.Unlock()
		return true
	})
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Device returns a snapshot of one device.
func (m *Manager) Device(id string) (Device, bool) {
	entry, ok := m.devices.Get(id)
	if !ok {
		return Device{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info, true
}

// entry returns the device record, creating it when the id was never seen in
// a scan (direct connects by address are allowed).
func (m *Manager) entry(id string) *deviceEntry {
	entry, _ := m.devices.GetOrInsert(id, newDeviceEntry(id))
	return entry
}

// Connect dials the device, discovers its services, and enriches the device
// record from the Device Information service. The device is never left in
// the connecting state: every failure path reverts to disconnected.
func (m *Manager) Connect(ctx context.Context, id string, opts *ConnectOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	timeout := m.cfg.ConnectTimeout
	if opts != nil && opts.ConnectTimeout > 0 {
		timeout = opts.ConnectTimeout
	}

	entry := m.entry(id)

	entry.mu.Lock()
	switch entry.state {
	case StateConnected, StateConnecting:
		entry.mu.Unlock()
		return fmt.Errorf("connect %s: %w", id, gatt.ErrAlreadyConnected)
	case StateDisconnecting:
		entry.mu.Unlock()
		return &BusyError{DeviceID: id, Op: "disconnect"}
	}
	entry.state = StateConnecting
	entry.mu.Unlock()
	m.notifyStateChanged(id, StateConnecting)

	conn, err := platformConnect(ctx, id, goble.ConnectOptions{ConnectTimeout: timeout}, m.logger)
	if err != nil {
		entry.mu.Lock()
		entry.state = StateDisconnected
		entry.mu.Unlock()
		m.notifyStateChanged(id, StateDisconnected)
		return fmt.Errorf("connect %s: %w", id, err)
	}

	entry.mu.Lock()
	entry.conn = conn
	entry.state = StateConnected
	entry.info.Connected = true
	entry.info.Services = conn.DiscoveredServices()
	entry.info.LastSeen = time.Now()
	entry.mu.Unlock()
	m.notifyStateChanged(id, StateConnected)

	m.enrichDeviceInfo(ctx, entry, conn)

	groutine.Go(context.Background(), "manager-link-monitor", func(context.Context) {
		<-conn.Disconnected()
		m.handleLinkLoss(id)
	})

	return nil
}

// enrichDeviceInfo reads the Device Information service. Every read is
// best-effort: cameras without a populated field simply leave it empty.
func (m *Manager) enrichDeviceInfo(ctx context.Context, entry *deviceEntry, conn Conn) {
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields := []struct {
		name string
		char string
		dst  *string
	}{
		{"manufacturer", uuids.CharManufacturerName, &entry.info.Manufacturer},
		{"model", uuids.CharModelNumber, &entry.info.Model},
		{"serial", uuids.CharSerialNumber, &entry.info.Serial},
		{"firmware", uuids.CharFirmwareRevision, &entry.info.Firmware},
	}

	for _, f := range fields {
		payload, err := conn.Read(readCtx, gatt.Address{
			Service:        uuids.ServiceDeviceInformation,
			Characteristic: f.char,
		})
		if err != nil {
			m.logger.WithError(err).WithField("field", f.name).Debug("Device information read skipped")
			continue
		}
		entry.mu.Lock()
		*f.dst = string(payload)
		entry.mu.Unlock()
	}
}

// handleLinkLoss reacts to the platform link monitor. A loss during a
// requested disconnect is the normal teardown and already handled there.
func (m *Manager) handleLinkLoss(id string) {
	entry, ok := m.devices.Get(id)
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.state != StateConnected {
		entry.mu.Unlock()
		return
	}
	entry.state = StateDisconnecting
	conn := entry.conn
	entry.mu.Unlock()

	m.logger.WithField("device", id).Warn("Camera link lost")
	m.runCleanups(id)

	entry.mu.Lock()
	entry.conn = nil
	entry.state = StateDisconnected
	entry.info.Connected = false
	entry.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.notifyStateChanged(id, StateDisconnected)
}

// Disconnect tears the connection down. Cleanup hooks run while the
// transport is still alive so protocols can send their aborts, and the
// state transition completes even when the platform close errors.
func (m *Manager) Disconnect(id string) error {
	entry, ok := m.devices.Get(id)
	if !ok {
		return nil
	}

	entry.mu.Lock()
	switch entry.state {
	case StateDisconnected, StateDisconnecting:
		entry.mu.Unlock()
		return nil
	case StateConnecting:
		entry.mu.Unlock()
		return &BusyError{DeviceID: id, Op: "connect"}
	}
	entry.state = StateDisconnecting
	conn := entry.conn
	entry.mu.Unlock()
	m.notifyStateChanged(id, StateDisconnecting)

	var closeErr error
	defer func() {
		entry.mu.Lock()
		entry.conn = nil
		entry.state = StateDisconnected
		entry.info.Connected = false
		entry.mu.Unlock()
		m.notifyStateChanged(id, StateDisconnected)
	}()

	m.runCleanups(id)

	if conn != nil {
		closeErr = conn.Close()
	}
	if closeErr != nil {
		return fmt.Errorf("disconnect %s: %w", id, closeErr)
	}
	return nil
}

// Transport returns the device's transport for protocol modules.
func (m *Manager) Transport(id string) (gatt.Transport, error) {
	entry, ok := m.devices.Get(id)
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", id, gatt.ErrNotConnected)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != StateConnected || entry.conn == nil {
		return nil, fmt.Errorf("transport %s: %w", id, gatt.ErrNotConnected)
	}
	return entry.conn, nil
}

// ConnectionState reports the device's current state.
func (m *Manager) ConnectionState(id string) ConnectionState {
	entry, ok := m.devices.Get(id)
	if !ok {
		return StateDisconnected
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state
}

// TryAcquire claims the device's operation guard exclusively. It returns
// false while any other operation, exclusive or shared, holds the guard.
// Release with the same op string.
func (m *Manager) TryAcquire(id, op string) bool {
	entry := m.entry(id)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.guardOp != "" || len(entry.shared) > 0 {
		return false
	}
	entry.guardOp = op
	return true
}

// Release frees the exclusive guard if op still holds it.
func (m *Manager) Release(id, op string) {
	entry, ok := m.devices.Get(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.guardOp == op {
		entry.guardOp = ""
	}
}

// TryAcquireShared claims the guard in shared mode. Shared holders coexist
// with each other (each acquisition is counted) but exclude an exclusive
// operation, and vice versa.
func (m *Manager) TryAcquireShared(id, op string) bool {
	entry := m.entry(id)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.guardOp != "" {
		return false
	}
	if entry.shared == nil {
		entry.shared = make(map[string]int)
	}
	entry.shared[op]++
	return true
}

// ReleaseShared drops one shared hold of op.
func (m *Manager) ReleaseShared(id, op string) {
	entry, ok := m.devices.Get(id)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.shared[op] > 1 {
		entry.shared[op]--
	} else {
		delete(entry.shared, op)
	}
}

// ActiveOp reports which operation holds the device's guard, if any. With
// several shared holders it reports the first in name order.
func (m *Manager) ActiveOp(id string) string {
	entry, ok := m.devices.Get(id)
	if !ok {
		return ""
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.guardOp != "" {
		return entry.guardOp
	}
	names := make([]string, 0, len(entry.shared))
	for op := range entry.shared {
		names = append(names, op)
	}
	sort.Strings(names)
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

// RegisterCleanup adds a per-device teardown hook, run on every disconnect
// path, requested or not. Hooks run in registration order.
func (m *Manager) RegisterCleanup(name string, fn func(deviceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupHook{name: name, fn: fn})
}

func (m *Manager) runCleanups(deviceID string) {
	m.mu.Lock()
	hooks := make([]cleanupHook, len(m.cleanups))
	copy(hooks, m.cleanups)
	m.mu.Unlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithFields(logrus.Fields{
						"hook":   h.name,
						"device": deviceID,
						"panic":  r,
					}).Error("Cleanup hook panicked")
				}
			}()
			h.fn(deviceID)
		}()
	}
}

// OnDeviceDiscovered registers a discovery callback. The returned disposer
// is idempotent.
func (m *Manager) OnDeviceDiscovered(fn func(Device)) gatt.Unsubscribe {
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.discoverySubs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.discoverySubs, id)
			m.subsMu.Unlock()
		})
	}
}

// OnConnectionStateChanged registers a connection state callback. Events are
// edge-triggered: a callback fires only when the state actually changed.
func (m *Manager) OnConnectionStateChanged(fn func(deviceID string, state ConnectionState)) gatt.Unsubscribe {
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.stateSubs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) notifyDiscovered(device Device) {
	m.subsMu.Lock()
	subs := make([]func(Device), 0, len(m.discoverySubs))
	for _, fn := range m.discoverySubs {
		subs = append(subs, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range subs {
		fn(device)
	}
}

func (m *Manager) notifyStateChanged(deviceID string, state ConnectionState) {
	m.subsMu.Lock()
	subs := make([]func(string, ConnectionState), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range subs {
		fn(deviceID, state)
	}
}

// Close stops scanning, disconnects every device, and tears the manager
// down. Further operations return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.StopScan()

	var firstErr error
	m.devices.Range(func(id string, entry *deviceEntry) bool {
		if err := m.Disconnect(id); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})

	m.subsMu.Lock()
	m.discoverySubs = make(map[uint64]func(Device))
	m.stateSubs = make(map[uint64]func(string, ConnectionState))
	m.subsMu.Unlock()

	m.events.Close()
	return firstErr
}
