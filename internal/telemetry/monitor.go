// Package telemetry polls and subscribes the camera's health surface:
// recording state, storage, temperatures, active errors, system health and
// power. Each device gets a poll loop whose six sub-reads run in parallel and
// degrade independently, so one unanswered characteristic never blanks the
// rest of the snapshot. Temperature and error alerts are delivered off the
// poll goroutine through an overlapped ring buffer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

var (
	recordingAddr   = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharRecordingStatus}
	storageAddr     = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharStorageStatus}
	temperatureAddr = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharTemperature}
	errorsAddr      = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharCameraErrors}
	systemAddr      = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharSystemStatus}
	powerAddr       = gatt.Address{Service: uuids.ServiceBattery, Characteristic: uuids.CharPowerState}
	batteryAddr     = gatt.Address{Service: uuids.ServiceBattery, Characteristic: uuids.CharBatteryLevel}
)

const defaultPollInterval = 5 * time.Second

var (
	// ErrMonitorActive rejects starting a second monitor for a device.
	ErrMonitorActive = errors.New("status monitoring already active")

	// ErrNotMonitoring reports a stop with no monitor running.
	ErrNotMonitoring = errors.New("status monitoring not active")
)

// MonitorOptions tune one device's monitor.
type MonitorOptions struct {
	// Interval between polls. Zero takes the configured monitor
	// interval, 5 seconds by default.
	Interval time.Duration
}

// DefaultMonitorOptions returns the default poll cadence.
func DefaultMonitorOptions() *MonitorOptions {
	return &MonitorOptions{Interval: defaultPollInterval}
}

// StatusSnapshot is one complete health picture of a device. Snapshots are
// replaced wholesale on every poll, never merged field by field.
type StatusSnapshot struct {
	DeviceID     string               `json:"deviceId"`
	Recording    RecordingStatus      `json:"recording"`
	Storage      StorageStatus        `json:"storage"`
	Temperatures []TemperatureReading `json:"temperatures"`
	Errors       []CameraError        `json:"errors"`
	System       SystemStatus         `json:"system"`
	Power        PowerStatus          `json:"power"`
	CapturedAt   time.Time            `json:"capturedAt"`
}

// TemperatureAlert is a non-normal temperature reading on one device.
type TemperatureAlert struct {
	DeviceID string             `json:"deviceId"`
	Reading  TemperatureReading `json:"reading"`
}

// CameraErrorEvent is an error newly reported by one device.
type CameraErrorEvent struct {
	DeviceID string      `json:"deviceId"`
	Error    CameraError `json:"error"`
}

// ErrorRecord is one entry of the de-duplicated error history.
type ErrorRecord struct {
	Category  ErrorCategory `json:"category"`
	Code      uint16        `json:"code"`
	Severity  ErrorSeverity `json:"severity"` // from the latest sighting
	FirstSeen time.Time     `json:"firstSeen"`
	LastSeen  time.Time     `json:"lastSeen"`

	// Count is the number of polls the error appeared in.
	Count int `json:"count"`

	// Active is false once a poll no longer reports the error.
	Active bool `json:"active"`
}

type errorKey struct {
	category ErrorCategory
	code     uint16
}

// Connections is the slice of the connection manager the monitor needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
	RegisterCleanup(name string, fn func(deviceID string))
}

// pushedRecords holds device-initiated status notifications until the next
// poll folds them into a snapshot.
type pushedRecords struct {
	recording *RecordingStatus
	storage   *StorageStatus
	temps     []TemperatureReading
	errors    []CameraError
	system    *SystemStatus
	power     *PowerStatus
}

// session is one device's poll loop and per-device state.
type session struct {
	deviceID string
	cancel   context.CancelFunc
	done     chan struct{}
	unsubs   []gatt.Unsubscribe

	mu      sync.Mutex
	latest  *StatusSnapshot
	pushed  pushedRecords
	history map[errorKey]*ErrorRecord
}

func (s *session) takePushed() pushedRecords {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pushed
	s.pushed = pushedRecords{}
	return p
}

func (s *session) unsubscribe() {
	for _, unsub := range s.unsubs {
		unsub()
	}
}

// Monitor runs status monitoring for connected cameras.
type Monitor struct {
	conns    Connections
	logger   *logrus.Logger
	timeout  time.Duration
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	watchers map[string]map[int]func(*StatusSnapshot)
	nextID   int

	tempAlerts  *dispatcher[TemperatureAlert]
	errorAlerts *dispatcher[CameraErrorEvent]

	closeOnce sync.Once
}

// New creates a monitor and registers its disconnect cleanup with the
// manager.
func New(conns Connections, cfg *config.Config, logger *logrus.Logger) *Monitor {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Monitor{
		conns:       conns,
		logger:      logger,
		timeout:     cfg.RequestTimeout,
		interval:    cfg.MonitorInterval,
		sessions:    make(map[string]*session),
		watchers:    make(map[string]map[int]func(*StatusSnapshot)),
		tempAlerts:  newDispatcher[TemperatureAlert](logger.WithField("events", "temperature")),
		errorAlerts: newDispatcher[CameraErrorEvent](logger.WithField("events", "errors")),
	}
	if m.interval == 0 {
		m.interval = defaultPollInterval
	}
	conns.RegisterCleanup("telemetry", m.dropDevice)
	return m
}

// StartStatusMonitoring starts the device's poll loop and subscribes its
// status characteristics for pushes. The first poll runs immediately.
func (m *Monitor) StartStatusMonitoring(id string, opts *MonitorOptions) error {
	if opts == nil {
		opts = DefaultMonitorOptions()
	}
	interval := opts.Interval
	if interval == 0 {
		interval = m.interval
	}

	transport, err := m.conns.Transport(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		deviceID: id,
		cancel:   cancel,
		done:     make(chan struct{}),
		history:  make(map[errorKey]*ErrorRecord),
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("status monitoring on %s: %w", id, ErrMonitorActive)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.subscribePush(transport, sess)
	go m.runSession(ctx, sess, transport, interval)

	m.logger.WithFields(logrus.Fields{
		"device":   id,
		"interval": interval,
	}).Info("Status monitoring started")
	return nil
}

// StopStatusMonitoring stops the device's poll loop and discards its
// snapshot and error history.
func (m *Monitor) StopStatusMonitoring(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotMonitoring)
	}

	sess.cancel()
	<-sess.done

	m.logger.WithField("device", id).Info("Status monitoring stopped")
	return nil
}

// LatestStatus returns the device's most recent snapshot.
func (m *Monitor) LatestStatus(id string) (*StatusSnapshot, bool) {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.latest == nil {
		return nil, false
	}
	return sess.latest, true
}

// OnStatusUpdated registers fn for every new snapshot of the device. The
// registration survives monitor restarts for the device.
func (m *Monitor) OnStatusUpdated(id string, fn func(*StatusSnapshot)) gatt.Unsubscribe {
	m.mu.Lock()
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[int]func(*StatusSnapshot))
	}
	wid := m.nextID
	m.nextID++
	m.watchers[id][wid] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers[id], wid)
			m.mu.Unlock()
		})
	}
}

// OnTemperatureAlert registers fn for non-normal temperature readings on
// any monitored device.
func (m *Monitor) OnTemperatureAlert(fn func(TemperatureAlert)) gatt.Unsubscribe {
	return m.tempAlerts.subscribe(fn)
}

// OnCameraError registers fn for errors newly reported by any monitored
// device. An error that persists across polls fires once, until it resolves
// and reappears.
func (m *Monitor) OnCameraError(fn func(CameraErrorEvent)) gatt.Unsubscribe {
	return m.errorAlerts.subscribe(fn)
}

// ErrorHistory returns the device's de-duplicated error history, oldest
// first.
func (m *Monitor) ErrorHistory(id string) []ErrorRecord {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]ErrorRecord, 0, len(sess.history))
	for _, rec := range sess.history {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// ClearResolvedErrors drops history entries no longer reported by the
// device and returns how many were removed.
func (m *Monitor) ClearResolvedErrors(id string) int {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		return 0
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	removed := 0
	for key, rec := range sess.history {
		if !rec.Active {
			delete(sess.history, key)
			removed++
		}
	}
	return removed
}

// Close stops every poll loop and both alert dispatchers.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		sessions := make([]*session, 0, len(m.sessions))
		for _, sess := range m.sessions {
			sessions = append(sessions, sess)
		}
		m.sessions = make(map[string]*session)
		m.mu.Unlock()

		for _, sess := range sessions {
			sess.cancel()
			<-sess.done
		}
		m.tempAlerts.close()
		m.errorAlerts.close()
	})
	return nil
}

// dropDevice is the manager's disconnect hook: stop the device's loop and
// discard its state. The loop unwinds on its own, cleanup never blocks on
// it.
func (m *Monitor) dropDevice(deviceID string) {
	m.mu.Lock()
	sess, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()
	if ok {
		sess.cancel()
	}
}

// subscribePush subscribes the six status characteristics. A characteristic
// that cannot be subscribed leaves that record poll-only.
func (m *Monitor) subscribePush(transport gatt.Transport, sess *session) {
	subs := []struct {
		addr gatt.Address
		name string
		fold func(payload []byte) error
	}{
		{recordingAddr, "recording", func(p []byte) error {
			st, err := DecodeRecordingStatus(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.recording = st
			sess.mu.Unlock()
			return nil
		}},
		{storageAddr, "storage", func(p []byte) error {
			st, err := DecodeStorageStatus(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.storage = st
			sess.mu.Unlock()
			return nil
		}},
		{temperatureAddr, "temperature", func(p []byte) error {
			readings, err := DecodeTemperatures(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.temps = readings
			sess.mu.Unlock()
			return nil
		}},
		{errorsAddr, "errors", func(p []byte) error {
			errs, err := DecodeCameraErrors(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.errors = errs
			sess.mu.Unlock()
			return nil
		}},
		{systemAddr, "system", func(p []byte) error {
			st, err := DecodeSystemStatus(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.system = st
			sess.mu.Unlock()
			return nil
		}},
		{powerAddr, "power", func(p []byte) error {
			st, err := DecodePowerStatus(p)
			if err != nil {
				return err
			}
			sess.mu.Lock()
			sess.pushed.power = st
			sess.mu.Unlock()
			return nil
		}},
	}

	for _, sub := range subs {
		unsub, err := transport.Subscribe(sub.addr, func(payload []byte) {
			if err := sub.fold(payload); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"device": sess.deviceID,
					"record": sub.name,
				}).Warn("Dropping malformed status notification")
			}
		})
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"device": sess.deviceID,
				"record": sub.name,
			}).Warn("Status pushes unavailable, record is poll-only")
			continue
		}
		sess.unsubs = append(sess.unsubs, unsub)
	}
}

// runSession polls immediately, then on the fixed cadence, until stopped.
func (m *Monitor) runSession(ctx context.Context, sess *session, transport gatt.Transport, interval time.Duration) {
	defer close(sess.done)
	defer sess.unsubscribe()

	m.poll(ctx, sess, transport)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx, sess, transport)
		}
	}
}

// readRecord performs one bounded characteristic read. A failure is normal
// operation (the camera may be busy or mid-update), so it only logs at
// debug level.
func (m *Monitor) readRecord(ctx context.Context, transport gatt.Transport, addr gatt.Address, name string) ([]byte, bool) {
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	payload, err := transport.Read(rctx, addr)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"device": transport.DeviceID(),
			"record": name,
		}).Debug("Status read failed, using fallback")
		return nil, false
	}
	return payload, true
}

func (m *Monitor) warnDecode(deviceID, name string, err error) {
	m.logger.WithError(err).WithFields(logrus.Fields{
		"device": deviceID,
		"record": name,
	}).Warn("Malformed status record, using fallback")
}

// poll assembles one snapshot. Pushed records take the place of reads, the
// six sub-reads run in parallel, and every failure falls back to the zero
// value of its own section only.
func (m *Monitor) poll(ctx context.Context, sess *session, transport gatt.Transport) {
	if ctx.Err() != nil {
		return
	}
	pushed := sess.takePushed()
	id := sess.deviceID

	snap := &StatusSnapshot{DeviceID: id}
	var wg sync.WaitGroup
	wg.Add(6)

	go func() {
		defer wg.Done()
		if pushed.recording != nil {
			snap.Recording = *pushed.recording
			return
		}
		if payload, ok := m.readRecord(ctx, transport, recordingAddr, "recording"); ok {
			if st, err := DecodeRecordingStatus(payload); err == nil {
				snap.Recording = *st
			} else {
				m.warnDecode(id, "recording", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if pushed.storage != nil {
			snap.Storage = *pushed.storage
			return
		}
		if payload, ok := m.readRecord(ctx, transport, storageAddr, "storage"); ok {
			if st, err := DecodeStorageStatus(payload); err == nil {
				snap.Storage = *st
			} else {
				m.warnDecode(id, "storage", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if pushed.temps != nil {
			snap.Temperatures = pushed.temps
			return
		}
		if payload, ok := m.readRecord(ctx, transport, temperatureAddr, "temperature"); ok {
			if readings, err := DecodeTemperatures(payload); err == nil {
				snap.Temperatures = readings
			} else {
				m.warnDecode(id, "temperature", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if pushed.errors != nil {
			snap.Errors = pushed.errors
			return
		}
		if payload, ok := m.readRecord(ctx, transport, errorsAddr, "errors"); ok {
			if errs, err := DecodeCameraErrors(payload); err == nil {
				snap.Errors = errs
			} else {
				m.warnDecode(id, "errors", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if pushed.system != nil {
			snap.System = *pushed.system
			return
		}
		if payload, ok := m.readRecord(ctx, transport, systemAddr, "system"); ok {
			if st, err := DecodeSystemStatus(payload); err == nil {
				snap.System = *st
			} else {
				m.warnDecode(id, "system", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if pushed.power != nil {
			snap.Power = *pushed.power
			return
		}
		if payload, ok := m.readRecord(ctx, transport, powerAddr, "power"); ok {
			if st, err := DecodePowerStatus(payload); err == nil {
				snap.Power = *st
				return
			} else {
				m.warnDecode(id, "power", err)
			}
		}
		// the standard battery characteristic still answers when the
		// vendor power record does not
		if payload, ok := m.readRecord(ctx, transport, batteryAddr, "battery level"); ok {
			if pct, err := DecodeBatteryLevel(payload); err == nil {
				snap.Power = PowerStatus{BatteryPercent: pct}
			} else {
				m.warnDecode(id, "battery level", err)
			}
		}
	}()

	wg.Wait()
	if ctx.Err() != nil {
		return
	}
	snap.CapturedAt = time.Now()

	for _, reading := range snap.Temperatures {
		if reading.Severity != SeverityNormal {
			m.tempAlerts.publish(TemperatureAlert{DeviceID: id, Reading: reading})
		}
	}
	for _, e := range sess.foldErrors(snap.Errors, snap.CapturedAt) {
		m.errorAlerts.publish(CameraErrorEvent{DeviceID: id, Error: e})
	}

	sess.mu.Lock()
	sess.latest = snap
	sess.mu.Unlock()

	m.notifyWatchers(id, snap)
}

// foldErrors merges the poll's active errors into the history and returns
// the ones not active before this poll.
func (s *session) foldErrors(current []CameraError, now time.Time) []CameraError {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[errorKey]bool, len(current))
	var fresh []CameraError
	for _, e := range current {
		key := errorKey{category: e.Category, code: e.Code}
		seen[key] = true

		rec, ok := s.history[key]
		if !ok {
			s.history[key] = &ErrorRecord{
				Category:  e.Category,
				Code:      e.Code,
				Severity:  e.Severity,
				FirstSeen: now,
				LastSeen:  now,
				Count:     1,
				Active:    true,
			}
			fresh = append(fresh, e)
			continue
		}
		if !rec.Active {
			fresh = append(fresh, e)
		}
		rec.Active = true
		rec.LastSeen = now
		rec.Severity = e.Severity
		rec.Count++
	}
	for key, rec := range s.history {
		if !seen[key] {
			rec.Active = false
		}
	}
	return fresh
}

func (m *Monitor) notifyWatchers(id string, snap *StatusSnapshot) {
	m.mu.Lock()
	fns := make([]func(*StatusSnapshot), 0, len(m.watchers[id]))
	for _, fn := range m.watchers[id] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
