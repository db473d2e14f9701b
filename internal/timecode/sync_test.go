package timecode_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/testutils"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/timecode"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

const (
	masterID = "AA:AA:AA:AA:AA:01"
	slaveA   = "AA:AA:AA:AA:AA:02"
	slaveB   = "AA:AA:AA:AA:AA:03"
	slaveC   = "AA:AA:AA:AA:AA:04"
)

var tcAddr = gatt.Address{Service: uuids.ServiceAudioSource, Characteristic: uuids.CharTimecode}

// stubConns fakes the manager with one transport per connected device.
type stubConns struct {
	mu         sync.Mutex
	transports map[string]*testutils.FakeTransport
	cleanups   []func(string)
}

func newStubConns() *stubConns {
	return &stubConns{transports: make(map[string]*testutils.FakeTransport)}
}

func (s *stubConns) add(id string) *testutils.FakeTransport {
	transport := testutils.NewFakeTransport(id)
	s.mu.Lock()
	s.transports[id] = transport
	s.mu.Unlock()
	return transport
}

func (s *stubConns) Transport(id string) (gatt.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transport, ok := s.transports[id]
	if !ok {
		return nil, gatt.ErrNotConnected
	}
	return transport, nil
}

func (s *stubConns) RegisterCleanup(name string, fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// disconnect removes the device and runs the registered cleanups, the way
// the manager does when a link drops.
func (s *stubConns) disconnect(id string) {
	s.mu.Lock()
	delete(s.transports, id)
	hooks := append(([]func(string))(nil), s.cleanups...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(id)
	}
}

type syncHarness struct {
	svc   *timecode.Service
	conns *stubConns
}

func newHarness(t *testing.T) *syncHarness {
	t.Helper()
	conns := newStubConns()
	svc := timecode.New(conns, nil, testutils.NewTestHelper(t).Logger)
	t.Cleanup(func() {
		_ = svc.StopSyncSession()
	})
	return &syncHarness{svc: svc, conns: conns}
}

func record(t *testing.T, tc timecode.Timecode) []byte {
	t.Helper()
	raw, err := tc.Encode()
	require.NoError(t, err)
	return raw
}

// waitForMeasurement blocks until the session's first refresh has stamped
// every slave.
func waitForMeasurement(t *testing.T, h *syncHarness) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := h.svc.Session()
		if !ok {
			return false
		}
		for _, sl := range snap.Slaves {
			if sl.UpdatedAt.IsZero() {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func slaveByID(t *testing.T, snap *timecode.SyncSession, id string) timecode.SlaveSync {
	t.Helper()
	for _, sl := range snap.Slaves {
		if sl.DeviceID == id {
			return sl
		}
	}
	t.Fatalf("slave %s not in session", id)
	return timecode.SlaveSync{}
}

func TestReadCurrentTimecode(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID).WithReadValue(tcAddr, record(t, timecode.Timecode{
		Hours: 1, Minutes: 2, Seconds: 3, Frames: 4,
		Running: true, Format: timecode.Format30,
	}))

	tc, err := h.svc.ReadCurrentTimecode(context.Background(), masterID)
	require.NoError(t, err)
	assert.Equal(t, "01:02:03:04", tc.String())
	assert.True(t, tc.Running)
	assert.Equal(t, timecode.Format30, tc.Format)
	assert.WithinDuration(t, time.Now(), tc.CapturedAt, 5*time.Second)
}

func TestReadCurrentTimecodeRequiresConnection(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ReadCurrentTimecode(context.Background(), masterID)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatt.ErrNotConnected)
}

func TestReadCurrentTimecodeRejectsMalformedRecord(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID).WithReadValue(tcAddr, []byte{1, 2, 3})

	_, err := h.svc.ReadCurrentTimecode(context.Background(), masterID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 5 bytes, got 3")
}

func TestSetTimecode(t *testing.T) {
	h := newHarness(t)
	transport := h.conns.add(masterID)

	tc := &timecode.Timecode{Hours: 10, Minutes: 20, Seconds: 30, Frames: 12, Format: timecode.Format25}
	require.NoError(t, h.svc.SetTimecode(context.Background(), masterID, tc))

	writes := transport.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, record(t, *tc), writes[0].Payload)
	assert.True(t, writes[0].WithResponse)
}

func TestSetTimecodeValidatesBeforeWriting(t *testing.T) {
	h := newHarness(t)
	transport := h.conns.add(masterID)

	err := h.svc.SetTimecode(context.Background(), masterID, &timecode.Timecode{Hours: 24, Format: timecode.Format24})
	require.Error(t, err)
	assert.ErrorIs(t, err, timecode.ErrInvalidTimecode)
	assert.Empty(t, transport.Writes())
}

func TestStartSyncSessionValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name      string
		master    string
		slaves    []string
		tolerance time.Duration
		want      string
	}{
		{name: "missing master", slaves: []string{slaveA}, want: "missing master"},
		{name: "no slaves", master: masterID, want: "no slave devices"},
		{name: "master as slave", master: masterID, slaves: []string{slaveA, masterID}, want: "cannot be its own slave"},
		{name: "duplicate slave", master: masterID, slaves: []string{slaveA, slaveA}, want: "duplicate slave"},
		{name: "negative tolerance", master: masterID, slaves: []string{slaveA}, tolerance: -time.Second, want: "negative tolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.StartSyncSession(tt.master, tt.slaves, tt.tolerance)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, ok := h.svc.Session()
	assert.False(t, ok, "no rejected session may linger")
}

func TestStartSyncSessionIsExclusive(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID)
	h.conns.add(slaveA)

	snap, err := h.svc.StartSyncSession(masterID, []string{slaveA}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, masterID, snap.MasterID)
	assert.Equal(t, 50*time.Millisecond, snap.Tolerance)
	require.Len(t, snap.Slaves, 1)
	assert.Equal(t, slaveA, snap.Slaves[0].DeviceID)
	assert.False(t, snap.Slaves[0].InSync, "slaves start unmeasured")
	assert.False(t, snap.StartedAt.IsZero())

	_, err = h.svc.StartSyncSession(masterID, []string{slaveB}, time.Second)
	assert.ErrorIs(t, err, timecode.ErrSessionActive)

	require.NoError(t, h.svc.StopSyncSession())
	_, err = h.svc.StartSyncSession(masterID, []string{slaveB}, time.Second)
	require.NoError(t, err)
}

func TestSyncCamerasPushesMasterClock(t *testing.T) {
	h := newHarness(t)

	// the session's first measurement consumes the first master value, the
	// sync batch itself must then read the master exactly once
	baseline := timecode.Timecode{Minutes: 59, Seconds: 59, Format: timecode.Format30}
	pushed := timecode.Timecode{Hours: 1, Running: true, Format: timecode.Format30}
	h.conns.add(masterID).WithReadValue(tcAddr, record(t, baseline), record(t, pushed))

	a := h.conns.add(slaveA)
	b := h.conns.add(slaveB)
	c := h.conns.add(slaveC)
	c.WithWriteError(tcAddr, errors.New("write rejected"))

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA, slaveB, slaveC}, 100*time.Millisecond)
	require.NoError(t, err)
	waitForMeasurement(t, h)

	require.NoError(t, h.svc.SyncCameras(context.Background()))

	want := record(t, pushed)
	require.Len(t, a.WritesTo(tcAddr), 1)
	assert.Equal(t, want, a.WritesTo(tcAddr)[0])
	require.Len(t, b.WritesTo(tcAddr), 1)
	assert.Equal(t, want, b.WritesTo(tcAddr)[0])
	assert.Empty(t, c.WritesTo(tcAddr))

	snap, ok := h.svc.Session()
	require.True(t, ok)

	okA := slaveByID(t, snap, slaveA)
	assert.True(t, okA.InSync)
	assert.Zero(t, okA.Offset, "an accepted write starts the slave at zero drift")
	assert.Empty(t, okA.Error)

	okB := slaveByID(t, snap, slaveB)
	assert.True(t, okB.InSync)
	assert.Zero(t, okB.Offset)

	failed := slaveByID(t, snap, slaveC)
	assert.False(t, failed.InSync)
	assert.Contains(t, failed.Error, "write rejected")
}

func TestRefreshMeasuresDrift(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID).WithReadValue(tcAddr, record(t, timecode.Timecode{Hours: 1, Format: timecode.Format30}))
	// one frame ahead at 30fps, within a 50ms tolerance
	h.conns.add(slaveA).WithReadValue(tcAddr, record(t, timecode.Timecode{Hours: 1, Frames: 1, Format: timecode.Format30}))
	// two seconds ahead, far outside it
	h.conns.add(slaveB).WithReadValue(tcAddr, record(t, timecode.Timecode{Hours: 1, Seconds: 2, Format: timecode.Format30}))

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA, slaveB, slaveC}, 50*time.Millisecond)
	require.NoError(t, err)
	waitForMeasurement(t, h)

	snap, ok := h.svc.Session()
	require.True(t, ok)

	near := slaveByID(t, snap, slaveA)
	assert.True(t, near.InSync)
	assert.Equal(t, 33*time.Millisecond, near.Offset)

	far := slaveByID(t, snap, slaveB)
	assert.False(t, far.InSync)
	assert.Equal(t, 2*time.Second, far.Offset)

	gone := slaveByID(t, snap, slaveC)
	assert.False(t, gone.InSync, "an unreadable slave is out of sync")
	assert.NotEmpty(t, gone.Error)
}

func TestSyncCamerasWithoutSession(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.svc.SyncCameras(context.Background()), timecode.ErrNoSession)
}

func TestSyncCamerasMasterReadFails(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID).WithReadError(tcAddr, errors.New("link flapped"))
	h.conns.add(slaveA)

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA}, time.Second)
	require.NoError(t, err)

	err = h.svc.SyncCameras(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link flapped")
}

func TestStopSyncSession(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID)
	h.conns.add(slaveA)

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA}, time.Second)
	require.NoError(t, err)

	require.NoError(t, h.svc.StopSyncSession())
	_, ok := h.svc.Session()
	assert.False(t, ok)

	assert.ErrorIs(t, h.svc.StopSyncSession(), timecode.ErrNoSession)
	assert.ErrorIs(t, h.svc.SyncCameras(context.Background()), timecode.ErrNoSession)
}

func TestSlaveDisconnectLeavesSession(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID)
	h.conns.add(slaveA)
	h.conns.add(slaveB)

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA, slaveB}, time.Second)
	require.NoError(t, err)

	h.conns.disconnect(slaveA)
	snap, ok := h.svc.Session()
	require.True(t, ok, "the session survives losing one slave")
	require.Len(t, snap.Slaves, 1)
	assert.Equal(t, slaveB, snap.Slaves[0].DeviceID)

	h.conns.disconnect(slaveB)
	_, ok = h.svc.Session()
	assert.False(t, ok, "the session ends with its last slave")
}

func TestMasterDisconnectEndsSession(t *testing.T) {
	h := newHarness(t)
	h.conns.add(masterID)
	h.conns.add(slaveA)

	_, err := h.svc.StartSyncSession(masterID, []string{slaveA}, time.Second)
	require.NoError(t, err)

	h.conns.disconnect(masterID)
	_, ok := h.svc.Session()
	assert.False(t, ok)
	assert.ErrorIs(t, h.svc.SyncCameras(context.Background()), timecode.ErrNoSession)
}
