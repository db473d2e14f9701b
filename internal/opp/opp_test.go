package opp_test

import (
	"context"
	"encoding/json"
	"hash/crc32"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/control"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/opp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/testutils"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/manager"
)

const testDeviceID = "AA:BB:CC:DD:EE:FF"

var (
	cmdAddr  = gatt.Address{Service: uuids.ServiceObjectPush, Characteristic: uuids.CharObjectPushCommand}
	respAddr = gatt.Address{Service: uuids.ServiceObjectPush, Characteristic: uuids.CharObjectPushResponse}
)

// stubConns fakes the manager slice the client depends on.
type stubConns struct {
	transport    gatt.Transport
	transportErr error

	mu        sync.Mutex
	exclusive string
	shared    map[string]int
	cleanups  []func(string)
}

func newStubConns(transport gatt.Transport) *stubConns {
	return &stubConns{transport: transport, shared: make(map[string]int)}
}

func (s *stubConns) Transport(id string) (gatt.Transport, error) {
	if s.transportErr != nil {
		return nil, s.transportErr
	}
	return s.transport, nil
}

func (s *stubConns) TryAcquireShared(id, op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exclusive != "" {
		return false
	}
	s.shared[op]++
	return true
}

func (s *stubConns) ReleaseShared(id, op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared[op] > 1 {
		s.shared[op]--
	} else {
		delete(s.shared, op)
	}
}

func (s *stubConns) ActiveOp(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exclusive != "" {
		return s.exclusive
	}
	for op := range s.shared {
		return op
	}
	return ""
}

func (s *stubConns) RegisterCleanup(name string, fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

func (s *stubConns) sharedHolds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.shared {
		n += v
	}
	return n
}

type oppHarness struct {
	client    *opp.Client
	transport *testutils.FakeTransport
	conns     *stubConns
}

func newHarness(t *testing.T) *oppHarness {
	t.Helper()
	transport := testutils.NewFakeTransport(testDeviceID)
	conns := newStubConns(transport)
	client := opp.New(conns, nil, testutils.NewTestHelper(t).Logger)
	return &oppHarness{client: client, transport: transport, conns: conns}
}

func (h *oppHarness) respond(code opp.ResponseCode) {
	h.transport.Notify(respAddr, gatt.EncodeFrame(gatt.Frame{Code: byte(code)}))
}

// countCommands tallies command frames written so far by command code.
func (h *oppHarness) countCommands(code opp.CommandCode) int {
	n := 0
	for _, payload := range h.transport.WritesTo(cmdAddr) {
		if len(payload) > 0 && payload[0] == byte(code) {
			n++
		}
	}
	return n
}

// pushCamera emulates the receiving side of the protocol: it accumulates
// chunks for the announced file and commits them on a clean END_TRANSFER.
type pushCamera struct {
	h       *oppHarness
	onChunk func(name string, offset uint64) (opp.ResponseCode, bool)

	mu       sync.Mutex
	dir      string
	name     string
	declared uint64
	received []byte
	capacity uint64
	existing map[string]bool
	corrupt  bool
	files    map[string][]byte
	order    []string
	cancels  int
}

// serve wires the camera emulator to the transport. existing marks remote
// paths that already exist, capacity caps CHECK_SPACE when non-zero, and
// onChunk may rewrite a chunk's response code or suppress it entirely.
func (h *oppHarness) serve(existing map[string]bool, capacity uint64, onChunk func(name string, offset uint64) (opp.ResponseCode, bool)) *pushCamera {
	cam := &pushCamera{
		h:        h,
		onChunk:  onChunk,
		existing: existing,
		capacity: capacity,
		files:    make(map[string][]byte),
	}
	h.transport.OnWrite(cam.handle)
	return cam
}

func (cam *pushCamera) handle(w testutils.WriteRecord) {
	if w.Addr != cmdAddr || len(w.Payload) < gatt.FrameHeaderSize {
		return
	}
	r := gatt.NewReader(w.Payload[gatt.FrameHeaderSize:])

	switch opp.CommandCode(w.Payload[0]) {
	case opp.CmdSetPath:
		dir := r.String()
		if !strings.HasPrefix(dir, "/") {
			cam.h.respond(opp.RespInvalidPath)
			return
		}
		cam.mu.Lock()
		cam.dir = dir
		cam.mu.Unlock()
		cam.h.respond(opp.RespOK)

	case opp.CmdCheckSpace:
		size := r.U64()
		cam.mu.Lock()
		capacity := cam.capacity
		cam.mu.Unlock()
		if capacity > 0 && size > capacity {
			cam.h.respond(opp.RespInsufficientSpace)
			return
		}
		cam.h.respond(opp.RespOK)

	case opp.CmdStartTransfer:
		name := r.String()
		declared := r.U64()
		overwrite := r.U8() == 1
		cam.mu.Lock()
		if cam.existing[path.Join(cam.dir, name)] && !overwrite {
			cam.mu.Unlock()
			cam.h.respond(opp.RespFileExists)
			return
		}
		cam.name = name
		cam.declared = declared
		cam.received = nil
		cam.mu.Unlock()
		cam.h.respond(opp.RespOK)

	case opp.CmdSendChunk:
		offset := r.U64()
		data := r.Rest()
		cam.mu.Lock()
		name := cam.name
		cam.mu.Unlock()
		if cam.onChunk != nil {
			override, reply := cam.onChunk(name, offset)
			if !reply {
				return
			}
			if override != opp.RespOK {
				cam.h.respond(override)
				return
			}
		}
		cam.mu.Lock()
		if offset != uint64(len(cam.received)) {
			cam.mu.Unlock()
			cam.h.respond(opp.RespError)
			return
		}
		cam.received = append(cam.received, data...)
		cam.mu.Unlock()
		cam.h.respond(opp.RespContinue)

	case opp.CmdEndTransfer:
		crc := r.U32()
		cam.mu.Lock()
		if cam.corrupt || crc32.ChecksumIEEE(cam.received) != crc {
			cam.mu.Unlock()
			cam.h.respond(opp.RespChecksumMismatch)
			return
		}
		if uint64(len(cam.received)) != cam.declared {
			cam.mu.Unlock()
			cam.h.respond(opp.RespError)
			return
		}
		full := path.Join(cam.dir, cam.name)
		cam.files[full] = append([]byte(nil), cam.received...)
		cam.order = append(cam.order, full)
		cam.mu.Unlock()
		cam.h.respond(opp.RespOK)

	case opp.CmdCancelTransfer:
		cam.mu.Lock()
		cam.cancels++
		cam.received = nil
		cam.mu.Unlock()
		// the client does not wait for a cancel response
	}
}

func (cam *pushCamera) committed(full string) ([]byte, bool) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	data, ok := cam.files[full]
	return data, ok
}

func (cam *pushCamera) commitOrder() []string {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return append([]string(nil), cam.order...)
}

func (cam *pushCamera) cancelCount() int {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.cancels
}

func pushBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 37)
	}
	return data
}

func TestUploadFile(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)
	data := pushBytes(2000)

	var progress []opp.Progress
	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", data,
		&opp.UploadOptions{ChunkSize: 512},
		func(p opp.Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	got, ok := cam.committed("/media/a.bin")
	require.True(t, ok)
	assert.Equal(t, data, got, "camera must reassemble the exact bytes")

	require.Len(t, progress, 4)
	last := progress[len(progress)-1]
	assert.Equal(t, float64(100), last.Percentage)
	assert.EqualValues(t, 2000, last.TransferredBytes)
	assert.EqualValues(t, 2000, last.TotalBytes)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i].TransferredBytes, progress[i-1].TransferredBytes)
	}

	assert.Equal(t, 1, h.countCommands(opp.CmdSetPath))
	assert.Equal(t, 1, h.countCommands(opp.CmdCheckSpace))
	assert.Equal(t, 1, h.countCommands(opp.CmdStartTransfer))
	assert.Equal(t, 4, h.countCommands(opp.CmdSendChunk))
	assert.Equal(t, 1, h.countCommands(opp.CmdEndTransfer))
	assert.Zero(t, cam.cancelCount())
	assert.Zero(t, h.conns.sharedHolds(), "guard hold released on completion")
}

func TestUploadEmptyFile(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)

	err := h.client.UploadFile(context.Background(), testDeviceID, "/config", "empty.json", nil, nil, nil)
	require.NoError(t, err)

	got, ok := cam.committed("/config/empty.json")
	require.True(t, ok)
	assert.Empty(t, got)
	assert.Zero(t, h.countCommands(opp.CmdSendChunk), "an empty file needs no chunks")
}

func TestUploadFileExists(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(map[string]bool{"/luts/day.cube": true}, 0, nil)

	err := h.client.UploadFile(context.Background(), testDeviceID, "/luts", "day.cube", pushBytes(64), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, opp.ErrFileExists)

	assert.Zero(t, h.countCommands(opp.CmdSendChunk))
	assert.Equal(t, 1, cam.cancelCount(), "a failed step must cancel the remote transfer")
	assert.Zero(t, h.conns.sharedHolds())
}

func TestUploadOverwriteReplacesExisting(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(map[string]bool{"/luts/day.cube": true}, 0, nil)
	data := pushBytes(64)

	err := h.client.UploadFile(context.Background(), testDeviceID, "/luts", "day.cube", data,
		&opp.UploadOptions{Overwrite: true}, nil)
	require.NoError(t, err)

	got, ok := cam.committed("/luts/day.cube")
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestUploadInsufficientSpace(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 100, nil)

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "big.bin", pushBytes(200), nil, nil)
	require.Error(t, err)

	var respErr *gatt.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, byte(opp.RespInsufficientSpace), respErr.Code)
	assert.Contains(t, err.Error(), "insufficient space")

	assert.Zero(t, h.countCommands(opp.CmdStartTransfer), "a failed space check must stop the sequence")
	assert.Equal(t, 1, cam.cancelCount())
}

func TestUploadInvalidPath(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)

	err := h.client.UploadFile(context.Background(), testDeviceID, "luts", "x.cube", pushBytes(16), nil, nil)
	require.Error(t, err)

	var respErr *gatt.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, byte(opp.RespInvalidPath), respErr.Code)
	assert.Zero(t, h.countCommands(opp.CmdCheckSpace))
	assert.Equal(t, 1, cam.cancelCount())
}

func TestUploadChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)
	cam.corrupt = true

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", pushBytes(64), nil, nil)
	require.Error(t, err)

	var respErr *gatt.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, byte(opp.RespChecksumMismatch), respErr.Code)
	assert.Contains(t, err.Error(), "finish")

	_, ok := cam.committed("/media/a.bin")
	assert.False(t, ok, "a mismatched transfer must not be committed")
	assert.Equal(t, 1, cam.cancelCount())
}

func TestUploadChunkTimeoutCancels(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, func(name string, offset uint64) (opp.ResponseCode, bool) {
		return 0, false // camera goes silent on every chunk
	})

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", pushBytes(2048),
		&opp.UploadOptions{ChunkSize: 1024, ChunkTimeout: 80 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatt.ErrTimeout)
	assert.Contains(t, err.Error(), "at offset 0")

	assert.Equal(t, 1, cam.cancelCount())
	assert.Zero(t, h.conns.sharedHolds())
}

func TestUploadDuplicateRejectedBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	h.serve(nil, 0, nil)

	var dupErr error
	writesBefore, writesAfter := -1, -1
	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", pushBytes(1024),
		&opp.UploadOptions{ChunkSize: 256},
		func(p opp.Progress) {
			if dupErr != nil {
				return
			}
			// a second request for the same key while this one runs
			writesBefore = len(h.transport.Writes())
			dupErr = h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", nil, nil, nil)
			writesAfter = len(h.transport.Writes())
		})
	require.NoError(t, err)

	require.Error(t, dupErr)
	assert.ErrorIs(t, dupErr, opp.ErrUploadActive)
	assert.Equal(t, writesBefore, writesAfter, "the duplicate must be rejected before any write")
}

func TestUploadRejectedWhileFirmwareUpdateActive(t *testing.T) {
	h := newHarness(t)
	h.conns.exclusive = "firmware update"

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", pushBytes(16), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, manager.ErrDeviceBusy)

	var busy *manager.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "firmware update", busy.Op)
	assert.Empty(t, h.transport.Writes(), "rejection must precede any device traffic")
}

func TestUploadRequiresConnection(t *testing.T) {
	h := newHarness(t)
	h.conns.transportErr = gatt.ErrNotConnected

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "a.bin", pushBytes(16), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatt.ErrNotConnected)
	assert.Zero(t, h.conns.sharedHolds())
}

func TestUploadContextCancelStopsNextChunk(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := h.client.UploadFile(ctx, testDeviceID, "/media", "big.bin", pushBytes(64*16),
		&opp.UploadOptions{ChunkSize: 64},
		func(p opp.Progress) {
			if p.TransferredBytes >= 3*64 {
				cancel()
			}
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, cam.cancelCount(), "a cancelled upload must tell the camera")
	assert.Zero(t, h.conns.sharedHolds())

	_, ok := cam.committed("/media/big.bin")
	assert.False(t, ok)
}

func TestUploadLUT(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)

	lut, err := opp.ParseCubeLUT([]byte(identityCube))
	require.NoError(t, err)

	require.NoError(t, h.client.UploadLUT(context.Background(), testDeviceID, "day", lut))

	got, ok := cam.committed("/luts/day.cube")
	require.True(t, ok, "LUT uploads land in the LUT directory with the .cube extension")

	again, err := opp.ParseCubeLUT(got)
	require.NoError(t, err)
	assert.Equal(t, lut, again)
}

func TestUploadLUTValidatesBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	h.serve(nil, 0, nil)

	err := h.client.UploadLUT(context.Background(), testDeviceID, "bad", &opp.LUT{Size: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, opp.ErrInvalidLUT)
	assert.Empty(t, h.transport.Writes())
}

func TestUploadPreset(t *testing.T) {
	h := newHarness(t)
	cam := h.serve(nil, 0, nil)

	iso := uint32(800)
	preset := &control.CameraSettings{ISO: &iso}
	require.NoError(t, h.client.UploadPreset(context.Background(), testDeviceID, "interview", preset))

	got, ok := cam.committed("/presets/interview.json")
	require.True(t, ok)

	var decoded control.CameraSettings
	require.NoError(t, json.Unmarshal(got, &decoded))
	require.NotNil(t, decoded.ISO)
	assert.EqualValues(t, 800, *decoded.ISO)
}

func TestUploadConfigFile(t *testing.T) {
	h := newHarness(t)

	err := h.client.UploadConfigFile(context.Background(), testDeviceID, "x", nil)
	require.Error(t, err)
	assert.Empty(t, h.transport.Writes(), "a nil document must fail before any traffic")

	cam := h.serve(nil, 0, nil)
	doc := map[string]any{"timezone": "UTC", "reel": 7}
	require.NoError(t, h.client.UploadConfigFile(context.Background(), testDeviceID, "camera-7", doc))

	got, ok := cam.committed("/config/camera-7.json")
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, "UTC", decoded["timezone"])
}

func TestDisconnectCleanupCancelsUploads(t *testing.T) {
	h := newHarness(t)
	h.serve(nil, 0, nil)

	err := h.client.UploadFile(context.Background(), testDeviceID, "/media", "big.bin", pushBytes(64*16),
		&opp.UploadOptions{ChunkSize: 64},
		func(p opp.Progress) {
			if p.TransferredBytes == 64 {
				// the manager runs this hook on disconnect
				for _, hook := range h.conns.cleanups {
					hook(testDeviceID)
				}
			}
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.transport.HandlerCount(respAddr), "the exchange must unsubscribe on cleanup")
	assert.Zero(t, h.conns.sharedHolds())
}
