package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt/goble"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/testutils"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

const testDeviceID = "AA:BB:CC:DD:EE:FF"

// stubPlatform replaces the platform seams for one test and restores them on
// cleanup.
func stubPlatform(t *testing.T, conn *testutils.FakeConn, connectErr error) {
	t.Helper()

	oldCheck, oldScan, oldConnect := platformCheck, platformScan, platformConnect
	t.Cleanup(func() {
		platformCheck, platformScan, platformConnect = oldCheck, oldScan, oldConnect
	})

	platformCheck = func() error { return nil }
	platformScan = func(ctx context.Context, allowDup bool, handler func(goble.Advertisement)) error {
		<-ctx.Done()
		return ctx.Err()
	}
	platformConnect = func(ctx context.Context, deviceID string, opts goble.ConnectOptions, logger *logrus.Logger) (Conn, error) {
		if connectErr != nil {
			return nil, connectErr
		}
		return conn, nil
	}
}

// newConnectedManager connects a scripted fake camera and returns both.
func newConnectedManager(t *testing.T) (*Manager, *testutils.FakeConn) {
	t.Helper()

	conn := testutils.NewFakeConn(testDeviceID)
	stubPlatform(t, conn, nil)

	m := New(nil, testutils.NewTestHelper(t).Logger)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Connect(context.Background(), testDeviceID, nil))
	return m, conn
}

// stateRecorder collects connection state transitions thread-safely.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(_ string, state ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func TestConnectLifecycle(t *testing.T) {
	conn := testutils.NewFakeConn(testDeviceID).
		WithServices("1800", "180a", "1812", "000015301212efde1523785feabcd123")
	conn.WithReadValue(gatt.Address{Service: uuids.ServiceDeviceInformation, Characteristic: uuids.CharManufacturerName}, []byte("Blackmagic Design"))
	conn.WithReadValue(gatt.Address{Service: uuids.ServiceDeviceInformation, Characteristic: uuids.CharModelNumber}, []byte("Pocket Cinema Camera 6K"))
	conn.WithReadValue(gatt.Address{Service: uuids.ServiceDeviceInformation, Characteristic: uuids.CharSerialNumber}, []byte("7581234"))
	conn.WithReadValue(gatt.Address{Service: uuids.ServiceDeviceInformation, Characteristic: uuids.CharFirmwareRevision}, []byte("8.2.1"))
	stubPlatform(t, conn, nil)

	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()

	recorder := &stateRecorder{}
	unsub := m.OnConnectionStateChanged(recorder.record)
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), testDeviceID, nil))

	assert.Equal(t, StateConnected, m.ConnectionState(testDeviceID))

	dev, ok := m.Device(testDeviceID)
	require.True(t, ok)
	assert.True(t, dev.Connected)
	assert.Equal(t, "Blackmagic Design", dev.Manufacturer)
	assert.Equal(t, "Pocket Cinema Camera 6K", dev.Model)
	assert.Equal(t, "7581234", dev.Serial)
	assert.Equal(t, "8.2.1", dev.Firmware)
	assert.Equal(t, []string{"1800", "180a", "1812", "000015301212efde1523785feabcd123"}, dev.Services)

	transport, err := m.Transport(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, testDeviceID, transport.DeviceID())

	require.NoError(t, m.Disconnect(testDeviceID))
	assert.Equal(t, StateDisconnected, m.ConnectionState(testDeviceID))

	_, err = m.Transport(testDeviceID)
	assert.ErrorIs(t, err, gatt.ErrNotConnected)

	assert.Equal(t, []ConnectionState{
		StateConnecting, StateConnected, StateDisconnecting, StateDisconnected,
	}, recorder.snapshot())
}

func TestConnectRejectsWhenAlreadyConnected(t *testing.T) {
	m, _ := newConnectedManager(t)

	err := m.Connect(context.Background(), testDeviceID, nil)
	assert.ErrorIs(t, err, gatt.ErrAlreadyConnected)
}

func TestConnectFailureRevertsToDisconnected(t *testing.T) {
	dialErr := errors.New("dial failed")
	stubPlatform(t, nil, dialErr)

	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()

	recorder := &stateRecorder{}
	defer m.OnConnectionStateChanged(recorder.record)()

	err := m.Connect(context.Background(), testDeviceID, nil)
	require.ErrorIs(t, err, dialErr)

	assert.Equal(t, StateDisconnected, m.ConnectionState(testDeviceID))
	assert.Equal(t, []ConnectionState{StateConnecting, StateDisconnected}, recorder.snapshot())
}

func TestConnectEnrichmentIsBestEffort(t *testing.T) {
	// No device-information values scripted: every read fails, connect
	// still succeeds with the fields left empty.
	m, _ := newConnectedManager(t)

	dev, ok := m.Device(testDeviceID)
	require.True(t, ok)
	assert.True(t, dev.Connected)
	assert.Empty(t, dev.Manufacturer)
	assert.Empty(t, dev.Firmware)
}

func TestDeviceJSONShape(t *testing.T) {
	conn := testutils.NewFakeConn(testDeviceID).WithServices("1812", "180f")
	conn.WithReadValue(gatt.Address{Service: uuids.ServiceDeviceInformation, Characteristic: uuids.CharModelNumber}, []byte("Pocket Cinema Camera 6K"))
	stubPlatform(t, conn, nil)

	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()
	require.NoError(t, m.Connect(context.Background(), testDeviceID, nil))

	dev, ok := m.Device(testDeviceID)
	require.True(t, ok)

	// Empty optional fields must stay off the wire; last_seen is the only
	// nondeterministic field.
	testutils.NewJSONAsserter(t).
		WithOptions(testutils.WithIgnoredFields("last_seen"), testutils.WithIgnoreExtraKeys(false)).
		AssertValue(dev, `{
			"id": "AA:BB:CC:DD:EE:FF",
			"name": "",
			"rssi": 0,
			"model": "Pocket Cinema Camera 6K",
			"services": ["1812", "180f"],
			"connected": true
		}`)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, _ := newConnectedManager(t)

	require.NoError(t, m.Disconnect(testDeviceID))
	require.NoError(t, m.Disconnect(testDeviceID))
	require.NoError(t, m.Disconnect("11:22:33:44:55:66"), "unknown device disconnect is a no-op")
}

func TestCleanupHooksRunOnDisconnect(t *testing.T) {
	m, conn := newConnectedManager(t)

	var mu sync.Mutex
	var ran []string
	m.RegisterCleanup("transfers", func(deviceID string) {
		mu.Lock()
		defer mu.Unlock()
		// the link must still be alive so protocols can send aborts
		select {
		case <-conn.Disconnected():
			t.Error("cleanup ran after the link was torn down")
		default:
		}
		ran = append(ran, "transfers:"+deviceID)
	})
	m.RegisterCleanup("monitor", func(deviceID string) {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, "monitor:"+deviceID)
	})

	require.NoError(t, m.Disconnect(testDeviceID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"transfers:" + testDeviceID, "monitor:" + testDeviceID}, ran,
		"hooks run in registration order")
}

func TestCleanupHookPanicIsContained(t *testing.T) {
	m, _ := newConnectedManager(t)

	var ran bool
	m.RegisterCleanup("bad", func(string) { panic("boom") })
	m.RegisterCleanup("good", func(string) { ran = true })

	require.NoError(t, m.Disconnect(testDeviceID))
	assert.True(t, ran, "a panicking hook must not stop later hooks")
}

func TestLinkLossRunsCleanupsOnce(t *testing.T) {
	m, conn := newConnectedManager(t)

	var calls int32
	var mu sync.Mutex
	m.RegisterCleanup("session", func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	conn.DropLink()

	require.Eventually(t, func() bool {
		return m.ConnectionState(testDeviceID) == StateDisconnected
	}, time.Second, 10*time.Millisecond)

	// A requested disconnect after the loss must not run the hooks again.
	require.NoError(t, m.Disconnect(testDeviceID))

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
}

func TestExclusiveGuard(t *testing.T) {
	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()

	require.True(t, m.TryAcquire(testDeviceID, "firmware-update"))
	assert.False(t, m.TryAcquire(testDeviceID, "download"), "guard is exclusive")
	assert.Equal(t, "firmware-update", m.ActiveOp(testDeviceID))

	m.Release(testDeviceID, "download") // wrong op, no effect
	assert.Equal(t, "firmware-update", m.ActiveOp(testDeviceID))

	m.Release(testDeviceID, "firmware-update")
	assert.Empty(t, m.ActiveOp(testDeviceID))
	assert.True(t, m.TryAcquire(testDeviceID, "download"))
}

func TestSharedGuard(t *testing.T) {
	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()

	// shared holders coexist, including repeats of the same op
	require.True(t, m.TryAcquireShared(testDeviceID, "file transfer"))
	require.True(t, m.TryAcquireShared(testDeviceID, "file transfer"))
	require.True(t, m.TryAcquireShared(testDeviceID, "file upload"))
	assert.Equal(t, "file transfer", m.ActiveOp(testDeviceID), "first shared op in name order")

	assert.False(t, m.TryAcquire(testDeviceID, "firmware update"),
		"exclusive acquisition must fail while shared holders remain")

	m.ReleaseShared(testDeviceID, "file upload")
	m.ReleaseShared(testDeviceID, "file transfer")
	assert.False(t, m.TryAcquire(testDeviceID, "firmware update"),
		"one counted transfer hold is still outstanding")

	m.ReleaseShared(testDeviceID, "file transfer")
	require.True(t, m.TryAcquire(testDeviceID, "firmware update"))

	assert.False(t, m.TryAcquireShared(testDeviceID, "file transfer"),
		"shared acquisition must fail while the exclusive guard is held")
	assert.Equal(t, "firmware update", m.ActiveOp(testDeviceID))

	m.Release(testDeviceID, "firmware update")
	assert.True(t, m.TryAcquireShared(testDeviceID, "file transfer"))
}

func TestBusyErrorMatchesSentinel(t *testing.T) {
	err := &BusyError{DeviceID: testDeviceID, Op: "firmware-update"}
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Contains(t, err.Error(), "firmware-update")
}

func TestSubscriptionDisposerIsIdempotent(t *testing.T) {
	m := New(nil, testutils.NewTestHelper(t).Logger)
	defer m.Close()

	var count int
	unsub := m.OnDeviceDiscovered(func(Device) { count++ })
	unsub()
	unsub() // second call is a no-op

	m.notifyDiscovered(Device{ID: testDeviceID})
	assert.Zero(t, count)
}

func TestCloseDisconnectsEverything(t *testing.T) {
	m, conn := newConnectedManager(t)

	require.NoError(t, m.Close())

	assert.Equal(t, StateDisconnected, m.ConnectionState(testDeviceID))
	select {
	case <-conn.Disconnected():
	default:
		t.Error("close must tear the platform connection down")
	}

	assert.ErrorIs(t, m.StartScan(context.Background(), nil), ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background(), testDeviceID, nil), ErrClosed)
	require.NoError(t, m.Close(), "second close is a no-op")
}
