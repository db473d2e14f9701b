package timecode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

var timecodeAddr = gatt.Address{Service: uuids.ServiceAudioSource, Characteristic: uuids.CharTimecode}

// syncRefreshInterval is the default cadence at which a running session
// re-measures every slave's drift.
const syncRefreshInterval = 5 * time.Second

var (
	// ErrSessionActive rejects a second sync session while one is running.
	ErrSessionActive = errors.New("sync session already active")

	// ErrNoSession reports a session operation with no session running.
	ErrNoSession = errors.New("no sync session active")
)

// SlaveSync is one slave's standing relative to the session master.
type SlaveSync struct {
	DeviceID string `json:"deviceId"`

	// Offset is the slave's clock minus the master's, from the most
	// recent measurement.
	Offset    time.Duration `json:"offset"`
	InSync    bool          `json:"inSync"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SyncSession is a point-in-time view of the running session.
type SyncSession struct {
	MasterID  string        `json:"masterId"`
	Tolerance time.Duration `json:"tolerance"`
	Slaves    []SlaveSync   `json:"slaves"`
	StartedAt time.Time     `json:"startedAt"`
}

// Connections is the slice of the connection manager the service needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
	RegisterCleanup(name string, fn func(deviceID string))
}

// slaveState is the mutable record behind a SlaveSync.
type slaveState struct {
	id        string
	offset    time.Duration
	inSync    bool
	lastError string
	updatedAt time.Time
}

type syncSession struct {
	master    string
	tolerance time.Duration
	startedAt time.Time
	slaves    []*slaveState

	cancel context.CancelFunc
	done   chan struct{}
}

func (sess *syncSession) slave(id string) *slaveState {
	for _, sl := range sess.slaves {
		if sl.id == id {
			return sl
		}
	}
	return nil
}

func (sess *syncSession) slaveIDs() []string {
	ids := make([]string, len(sess.slaves))
	for i, sl := range sess.slaves {
		ids[i] = sl.id
	}
	return ids
}

func (sess *syncSession) snapshot() *SyncSession {
	out := &SyncSession{
		MasterID:  sess.master,
		Tolerance: sess.tolerance,
		StartedAt: sess.startedAt,
		Slaves:    make([]SlaveSync, len(sess.slaves)),
	}
	for i, sl := range sess.slaves {
		out.Slaves[i] = SlaveSync{
			DeviceID:  sl.id,
			Offset:    sl.offset,
			InSync:    sl.inSync,
			Error:     sl.lastError,
			UpdatedAt: sl.updatedAt,
		}
	}
	return out
}

// Service reads and writes camera timecode and runs at most one sync
// session at a time.
type Service struct {
	conns   Connections
	logger  *logrus.Logger
	timeout time.Duration
	refresh time.Duration

	mu      sync.Mutex
	session *syncSession
}

// New creates the service and registers its disconnect cleanup with the
// manager.
func New(conns Connections, cfg *config.Config, logger *logrus.Logger) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		conns:   conns,
		logger:  logger,
		timeout: cfg.RequestTimeout,
		refresh: cfg.SyncInterval,
	}
	if s.refresh == 0 {
		s.refresh = syncRefreshInterval
	}
	conns.RegisterCleanup("timecode", s.dropDevice)
	return s
}

// ReadCurrentTimecode reads the device's clock. CapturedAt is stamped with
// the local read time.
func (s *Service) ReadCurrentTimecode(ctx context.Context, id string) (*Timecode, error) {
	transport, err := s.conns.Transport(id)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := transport.Read(rctx, timecodeAddr)
	if err != nil {
		return nil, fmt.Errorf("read timecode: %w", gatt.NormalizeError(err))
	}
	tc, err := DecodeTimecode(raw)
	if err != nil {
		return nil, err
	}
	tc.CapturedAt = time.Now()
	return tc, nil
}

// SetTimecode writes a new clock value to the device.
func (s *Service) SetTimecode(ctx context.Context, id string, tc *Timecode) error {
	payload, err := tc.Encode()
	if err != nil {
		return err
	}
	transport, err := s.conns.Transport(id)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := transport.Write(wctx, timecodeAddr, payload, true); err != nil {
		return fmt.Errorf("set timecode: %w", gatt.NormalizeError(err))
	}
	s.logger.WithFields(logrus.Fields{
		"device":   id,
		"timecode": tc.String(),
	}).Debug("Timecode set")
	return nil
}

// StartSyncSession starts a session with one master and at least one slave.
// The session immediately measures every slave, then re-measures on a fixed
// interval until stopped. Only one session runs at a time.
func (s *Service) StartSyncSession(masterID string, slaveIDs []string, tolerance time.Duration) (*SyncSession, error) {
	if masterID == "" {
		return nil, errors.New("sync session: missing master device id")
	}
	if len(slaveIDs) == 0 {
		return nil, errors.New("sync session: no slave devices")
	}
	if tolerance < 0 {
		return nil, errors.New("sync session: negative tolerance")
	}
	seen := make(map[string]bool, len(slaveIDs))
	for _, id := range slaveIDs {
		if id == masterID {
			return nil, fmt.Errorf("sync session: master %s cannot be its own slave", masterID)
		}
		if seen[id] {
			return nil, fmt.Errorf("sync session: duplicate slave %s", id)
		}
		seen[id] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &syncSession{
		master:    masterID,
		tolerance: tolerance,
		startedAt: time.Now(),
		slaves:    make([]*slaveState, len(slaveIDs)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for i, id := range slaveIDs {
		sess.slaves[i] = &slaveState{id: id}
	}

	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		cancel()
		return nil, ErrSessionActive
	}
	s.session = sess
	snap := sess.snapshot()
	s.mu.Unlock()

	go s.runSession(ctx, sess)

	s.logger.WithFields(logrus.Fields{
		"master":    masterID,
		"slaves":    len(slaveIDs),
		"tolerance": tolerance,
	}).Info("Sync session started")
	return snap, nil
}

// StopSyncSession stops the running session and waits for its refresh loop
// to exit.
func (s *Service) StopSyncSession() error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.session = nil
	s.mu.Unlock()

	sess.cancel()
	<-sess.done

	s.logger.WithField("master", sess.master).Info("Sync session stopped")
	return nil
}

// Session reports the running session, if any.
func (s *Service) Session() (*SyncSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, false
	}
	return s.session.snapshot(), true
}

// SyncCameras reads the master's clock once and pushes it to every slave in
// parallel. A failed slave is marked out of sync with its error recorded,
// and the rest of the batch continues. The batch itself only fails when
// there is no session or the master cannot be read.
func (s *Service) SyncCameras(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	master := sess.master
	ids := sess.slaveIDs()
	s.mu.Unlock()

	masterTc, err := s.ReadCurrentTimecode(ctx, master)
	if err != nil {
		return fmt.Errorf("sync cameras: master %s: %w", master, err)
	}

	results := eachSlave(ids, func(id string) slaveResult {
		if err := s.SetTimecode(ctx, id, masterTc); err != nil {
			return slaveResult{errMsg: err.Error()}
		}
		// the slave now carries the master's value, drift starts at zero
		return slaveResult{inSync: true}
	})
	s.applyResults(sess, ids, results)

	failed := 0
	for _, r := range results {
		if r.errMsg != "" {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"master":   master,
		"timecode": masterTc.String(),
		"slaves":   len(ids),
		"failed":   failed,
	}).Info("Timecode sync completed")
	return nil
}

// runSession measures drift immediately, then on the configured cadence,
// until the session is cancelled.
func (s *Service) runSession(ctx context.Context, sess *syncSession) {
	defer close(sess.done)

	s.refreshSession(ctx, sess)
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshSession(ctx, sess)
		}
	}
}

// refreshSession reads the master and every slave and recomputes each
// slave's offset and in-sync flag. A master read failure skips the round;
// the previous measurements stand.
func (s *Service) refreshSession(ctx context.Context, sess *syncSession) {
	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		return
	}
	master := sess.master
	tolerance := sess.tolerance
	ids := sess.slaveIDs()
	s.mu.Unlock()

	masterTc, err := s.ReadCurrentTimecode(ctx, master)
	if err != nil {
		s.logger.WithError(err).WithField("master", master).Warn("Master timecode read failed, skipping refresh")
		return
	}

	results := eachSlave(ids, func(id string) slaveResult {
		tc, err := s.ReadCurrentTimecode(ctx, id)
		if err != nil {
			return slaveResult{errMsg: err.Error()}
		}
		offset := tc.Offset(masterTc)
		return slaveResult{offset: offset, inSync: offset.Abs() <= tolerance}
	})
	s.applyResults(sess, ids, results)
}

type slaveResult struct {
	offset time.Duration
	inSync bool
	errMsg string
}

// eachSlave fans fn out over the slaves and collects results in id order.
func eachSlave(ids []string, fn func(id string) slaveResult) []slaveResult {
	results := make([]slaveResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fn(id)
		}()
	}
	wg.Wait()
	return results
}

// applyResults folds measurement results into the session, unless the
// session was stopped or replaced while the measurements ran.
func (s *Service) applyResults(sess *syncSession, ids []string, results []slaveResult) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}
	for i, id := range ids {
		sl := sess.slave(id)
		if sl == nil {
			// removed by a disconnect while the measurement ran
			continue
		}
		sl.offset = results[i].offset
		sl.inSync = results[i].inSync
		sl.lastError = results[i].errMsg
		sl.updatedAt = now
	}
}

// dropDevice is the manager's disconnect hook. A lost slave leaves the
// session; a lost master, or the last slave, ends it.
func (s *Service) dropDevice(deviceID string) {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return
	}

	if deviceID == sess.master {
		s.session = nil
		s.mu.Unlock()
		sess.cancel()
		s.logger.WithField("master", deviceID).Info("Sync session ended, master disconnected")
		return
	}

	kept := sess.slaves[:0]
	removed := false
	for _, sl := range sess.slaves {
		if sl.id == deviceID {
			removed = true
			continue
		}
		kept = append(kept, sl)
	}
	sess.slaves = kept

	if removed && len(sess.slaves) == 0 {
		s.session = nil
		s.mu.Unlock()
		sess.cancel()
		s.logger.Info("Sync session ended, no slaves remain")
		return
	}
	s.mu.Unlock()

	if removed {
		s.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"slaves": len(kept),
		}).Info("Removed disconnected slave from sync session")
	}
}
