package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt/goble"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/groutine"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

// ScanOptions configures discovery behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// StartScan begins discovery in the background and returns immediately.
// The scan ends when ctx is cancelled, the duration elapses, or StopScan is
// called. A scan already running is stopped first. The adapter is checked
// before any state changes so an unusable radio surfaces as a typed error,
// not a dead scan.
func (m *Manager) StartScan(ctx context.Context, opts *ScanOptions) error {
	if opts == nil {
		opts = DefaultScanOptions()
		opts.Duration = m.cfg.ScanDuration
	}

	if err := platformCheck(); err != nil {
		return fmt.Errorf("bluetooth adapter unavailable: %w", gatt.NormalizeError(err))
	}

	// Normalize filter UUIDs once, not per advertisement.
	filter := &scanFilter{
		serviceUUIDs: uuids.NormalizeUUIDs(opts.ServiceUUIDs),
		allowList:    opts.AllowList,
		blockList:    opts.BlockList,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.scanState == ScanActive || m.scanState == ScanStarting {
		m.mu.Unlock()
		m.StopScan()
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		// A concurrent StartScan may have slipped in while we waited.
		if m.scanState != ScanStopped {
			m.mu.Unlock()
			return fmt.Errorf("scan already in progress")
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	var scanCtx context.Context
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}

	done := make(chan struct{})
	m.scanState = ScanStarting
	m.scanCancel = cancel
	m.scanDone = done
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"duration":  opts.Duration,
		"dupFilter": opts.DuplicateFilter,
	}).Info("Starting camera scan...")

	groutine.Go(scanCtx, "manager-scan", func(ctx context.Context) {
		m.setScanState(ScanActive)

		allowDup := !opts.DuplicateFilter
		err := platformScan(ctx, allowDup, func(adv goble.Advertisement) {
			m.handleAdvertisement(adv, filter)
		})
		if err != nil {
			m.logger.WithError(gatt.NormalizeError(err)).Warn("Scan ended with error")
		} else {
			m.logger.WithField("device_count", m.devices.Len()).Info("Scan completed")
		}

		m.mu.Lock()
		m.scanState = ScanStopped
		m.scanCancel = nil
		m.scanDone = nil
		m.mu.Unlock()
		cancel()
		close(done)
	})

	return nil
}

// StopScan cancels a running scan and waits for it to wind down. Calling it
// with no scan active is a no-op.
func (m *Manager) StopScan() {
	m.mu.Lock()
	if m.scanState != ScanActive && m.scanState != ScanStarting {
		m.mu.Unlock()
		return
	}
	m.scanState = ScanStopping
	cancel := m.scanCancel
	done := m.scanDone
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ScanState returns the current discovery state.
func (m *Manager) ScanState() ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanState
}

func (m *Manager) setScanState(state ScanState) {
	m.mu.Lock()
	// A StopScan racing the starting goroutine wins; don't resurrect the scan.
	if state == ScanActive && m.scanState != ScanStarting {
		m.mu.Unlock()
		return
	}
	m.scanState = state
	m.mu.Unlock()
}

type scanFilter struct {
	serviceUUIDs []string
	allowList    []string
	blockList    []string
}

// include applies block, allow, and service filters, in that order.
func (f *scanFilter) include(adv goble.Advertisement) bool {
	for _, blocked := range f.blockList {
		if adv.ID == blocked {
			return false
		}
	}

	if len(f.allowList) > 0 {
		allowed := false
		for _, a := range f.allowList {
			if adv.ID == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.serviceUUIDs) > 0 {
		hasRequired := false
		for _, required := range f.serviceUUIDs {
			for _, advertised := range adv.Services {
				if advertised == required {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// handleAdvertisement updates existing or adds a new device
func (m *Manager) handleAdvertisement(adv goble.Advertisement, filter *scanFilter) {
	entry, existing := m.devices.Get(adv.ID)
	if !existing {
		if !filter.include(adv) {
			return
		}
		entry, existing = m.devices.GetOrInsert(adv.ID, newDeviceEntry(adv.ID))
	}

	entry.mu.Lock()
	if adv.Name != "" {
		entry.info.Name = adv.Name
	}
	entry.info.RSSI = adv.RSSI
	entry.info.LastSeen = time.Now()
	snapshot := entry.info
	entry.mu.Unlock()

	event := DeviceEvent{Device: snapshot}
	if existing {
		event.Type = EventUpdated
	} else {
		m.logger.WithFields(logrus.Fields{
			"device":  snapshot.Name,
			"address": snapshot.ID,
			"rssi":    snapshot.RSSI,
		}).Info("Discovered camera")
		event.Type = EventNew
	}

	m.events.Send(event)
	m.notifyDiscovered(snapshot)
}
