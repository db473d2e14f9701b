// Package dfu drives the camera's firmware update service: a staged state
// machine that validates an image, streams it in 20-byte packets with
// packet-receipt flow control, has the device verify it and finally
// activates it.
//
// An update is exclusive. It takes the manager's per-device operation guard,
// so it cannot start while a file transfer or upload holds the device, and
// transfers cannot start while an update runs.
package dfu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/manager"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

var (
	controlAddr = gatt.Address{Service: uuids.ServiceDFU, Characteristic: uuids.CharDFUControlPoint}
	packetAddr  = gatt.Address{Service: uuids.ServiceDFU, Characteristic: uuids.CharDFUPacket}
	versionAddr = gatt.Address{Service: uuids.ServiceDFU, Characteristic: uuids.CharDFUVersion}
)

// guardOp names the exclusive hold an update keeps on the device's
// operation guard.
const guardOp = "firmware update"

const (
	// packetSize is the image payload per packet write, sized for the
	// default ATT MTU.
	packetSize = 20

	defaultReceiptInterval = 10
	defaultResponseTimeout = 30 * time.Second
)

var (
	// ErrUpdateActive rejects a second update for a device that already
	// has one running.
	ErrUpdateActive = errors.New("update already in progress")

	// ErrNoUpdate reports a cancel with nothing to cancel.
	ErrNoUpdate = errors.New("no firmware update in progress")
)

// Stage is a phase of the update state machine.
type Stage string

const (
	StageConnecting   Stage = "connecting"
	StageInitializing Stage = "initializing"
	StageUploading    Stage = "uploading"
	StageValidating   Stage = "validating"
	StageActivating   Stage = "activating"
	StageCompleted    Stage = "completed"
)

// UpdateState is a point-in-time view of a running update.
type UpdateState struct {
	DeviceID   string    `json:"deviceId"`
	Firmware   string    `json:"firmware"`
	Stage      Stage     `json:"stage"`
	BytesSent  uint64    `json:"bytesSent"`
	TotalBytes uint64    `json:"totalBytes"`
	StartedAt  time.Time `json:"startedAt"`
}

// Progress is reported after every packet.
type Progress struct {
	BytesSent  uint64
	TotalBytes uint64
	Percentage float64
	ETA        time.Duration // from observed throughput, zero until measurable
}

// ProgressFunc receives update progress. Called on the update's goroutine;
// keep it fast.
type ProgressFunc func(Progress)

// ErrorFunc is told which stage an update died in, before Start returns the
// same error.
type ErrorFunc func(stage Stage, err error)

// UpdateOptions tune one update. The zero value takes the defaults.
type UpdateOptions struct {
	// PacketReceiptInterval is the number of packets between receipt
	// confirmations from the device. Zero takes 10.
	PacketReceiptInterval uint16 `default:"10"`

	// ResponseTimeout bounds each control point response wait. Zero takes
	// 30 seconds.
	ResponseTimeout time.Duration

	// SkipValidation activates the image without the validation exchange.
	SkipValidation bool
}

// DefaultUpdateOptions returns options with the tag defaults applied.
func DefaultUpdateOptions() *UpdateOptions {
	opts := &UpdateOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Connections is the slice of the connection manager the updater needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
	TryAcquire(id, op string) bool
	Release(id, op string)
	ActiveOp(id string) string
	RegisterCleanup(name string, fn func(deviceID string))
}

// update is the mutable state behind an UpdateState.
type update struct {
	mu     sync.Mutex
	state  UpdateState
	cancel context.CancelFunc
}

func (u *update) snapshot() UpdateState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *update) set(fn func(st *UpdateState)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(&u.state)
}

// Updater runs firmware updates against connected cameras.
type Updater struct {
	conns          Connections
	logger         *logrus.Logger
	requestTimeout time.Duration

	mu      sync.Mutex
	updates map[string]*update
}

// New creates an updater and registers its disconnect cleanup with the
// manager.
func New(conns Connections, cfg *config.Config, logger *logrus.Logger) *Updater {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	u := &Updater{
		conns:          conns,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		updates:        make(map[string]*update),
	}
	conns.RegisterCleanup("dfu", u.dropDevice)
	return u
}

// Version reads the device's DFU service version as "major.minor".
func (u *Updater) Version(ctx context.Context, id string) (string, error) {
	transport, err := u.conns.Transport(id)
	if err != nil {
		return "", err
	}
	rctx, cancel := context.WithTimeout(ctx, u.requestTimeout)
	defer cancel()
	payload, err := transport.Read(rctx, versionAddr)
	if err != nil {
		return "", fmt.Errorf("read dfu version: %w", err)
	}
	if len(payload) != 2 {
		return "", fmt.Errorf("dfu version: want 2 bytes, got %d", len(payload))
	}
	// [minor][major]
	return fmt.Sprintf("%d.%d", payload[1], payload[0]), nil
}

// Start runs a complete update against one device and blocks until it
// finishes or fails. The image must pass ValidateFirmwareFile before any
// write reaches the device. onProgress, if set, runs after every packet;
// onError, if set, is told the failing stage.
func (u *Updater) Start(ctx context.Context, id string, fw *FirmwareFile, opts *UpdateOptions, onProgress ProgressFunc, onError ErrorFunc) error {
	if opts == nil {
		opts = DefaultUpdateOptions()
	}
	interval := opts.PacketReceiptInterval
	if interval == 0 {
		interval = defaultReceiptInterval
	}
	timeout := opts.ResponseTimeout
	if timeout == 0 {
		timeout = defaultResponseTimeout
	}

	if err := ValidateFirmwareFile(fw); err != nil {
		return err
	}

	up, err := u.track(id, fw)
	if err != nil {
		return err
	}

	if !u.conns.TryAcquire(id, guardOp) {
		u.untrack(id)
		return &manager.BusyError{DeviceID: id, Op: u.conns.ActiveOp(id)}
	}

	uctx, cancel := context.WithCancel(ctx)
	up.mu.Lock()
	up.cancel = cancel
	up.mu.Unlock()

	defer func() {
		cancel()
		u.untrack(id)
		u.conns.Release(id, guardOp)
	}()

	fail := func(stage Stage, err error) error {
		u.resetQuietly(id)
		if onError != nil {
			onError(stage, err)
		}
		u.logger.WithError(err).WithFields(logrus.Fields{
			"device": id,
			"stage":  stage,
		}).Error("Firmware update failed")
		return err
	}

	transport, err := u.conns.Transport(id)
	if err != nil {
		return fail(StageConnecting, err)
	}
	link, err := newControlLink(transport, u.logger)
	if err != nil {
		return fail(StageConnecting, err)
	}
	defer link.close()

	up.set(func(st *UpdateState) { st.Stage = StageInitializing })
	u.logger.WithFields(logrus.Fields{
		"device":   id,
		"firmware": fw.Name,
		"size":     len(fw.Data),
	}).Info("Firmware update started")

	if err := transport.Write(uctx, controlAddr, EncodeStartRequest(ImageApplication), true); err != nil {
		return fail(StageInitializing, fmt.Errorf("start dfu: %w", err))
	}
	if err := transport.Write(uctx, packetAddr, EncodeSizePacket(uint32(len(fw.Data))), false); err != nil {
		return fail(StageInitializing, fmt.Errorf("send image size: %w", err))
	}
	if err := link.awaitStatus(uctx, OpStartDFU, timeout); err != nil {
		return fail(StageInitializing, err)
	}
	if err := transport.Write(uctx, controlAddr, EncodePacketReceiptRequest(interval), true); err != nil {
		return fail(StageInitializing, fmt.Errorf("request receipt notifications: %w", err))
	}
	if err := transport.Write(uctx, controlAddr, []byte{byte(OpReceiveFirmwareImage)}, true); err != nil {
		return fail(StageInitializing, fmt.Errorf("begin image transfer: %w", err))
	}

	up.set(func(st *UpdateState) { st.Stage = StageUploading })
	total := uint64(len(fw.Data))
	start := time.Now()
	var sent uint64
	packets := 0

	for sent < total {
		// a cancel only stops the next packet from being sent
		if uctx.Err() != nil {
			return fail(StageUploading, fmt.Errorf("image transfer: %w", uctx.Err()))
		}

		end := sent + packetSize
		if end > total {
			end = total
		}
		if err := transport.Write(uctx, packetAddr, fw.Data[sent:end], false); err != nil {
			return fail(StageUploading, fmt.Errorf("send packet at offset %d: %w", sent, err))
		}
		sent = end
		packets++
		up.set(func(st *UpdateState) { st.BytesSent = sent })

		if packets%int(interval) == 0 && sent < total {
			confirmed, err := link.awaitReceipt(uctx, timeout)
			if err != nil {
				return fail(StageUploading, err)
			}
			if uint64(confirmed) != sent {
				return fail(StageUploading, fmt.Errorf("flow control: device confirmed %d bytes, sent %d", confirmed, sent))
			}
		}

		if onProgress != nil {
			elapsed := time.Since(start)
			var eta time.Duration
			if sent > 0 && elapsed > 0 {
				speed := float64(sent) / elapsed.Seconds()
				eta = time.Duration(float64(total-sent) / speed * float64(time.Second))
			}
			onProgress(Progress{
				BytesSent:  sent,
				TotalBytes: total,
				Percentage: float64(sent) / float64(total) * 100,
				ETA:        eta,
			})
		}
	}

	if err := link.awaitStatus(uctx, OpReceiveFirmwareImage, timeout); err != nil {
		return fail(StageUploading, err)
	}

	if !opts.SkipValidation {
		up.set(func(st *UpdateState) { st.Stage = StageValidating })
		if err := transport.Write(uctx, controlAddr, []byte{byte(OpValidateFirmware)}, true); err != nil {
			return fail(StageValidating, fmt.Errorf("validate firmware: %w", err))
		}
		if err := link.awaitStatus(uctx, OpValidateFirmware, timeout); err != nil {
			return fail(StageValidating, err)
		}
	}

	// the device resets immediately, no response follows
	up.set(func(st *UpdateState) { st.Stage = StageActivating })
	if err := transport.Write(uctx, controlAddr, []byte{byte(OpActivateAndReset)}, true); err != nil {
		return fail(StageActivating, fmt.Errorf("activate: %w", err))
	}

	up.set(func(st *UpdateState) { st.Stage = StageCompleted })
	u.logger.WithFields(logrus.Fields{
		"device":   id,
		"firmware": fw.Name,
		"bytes":    total,
	}).Info("Firmware update completed")
	return nil
}

// Cancel stops the device's running update before its next packet. The
// update's own unwind sends the reset to the camera.
func (u *Updater) Cancel(id string) error {
	u.mu.Lock()
	up, ok := u.updates[id]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNoUpdate)
	}
	up.mu.Lock()
	cancel := up.cancel
	up.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// State reports the device's running update, if any.
func (u *Updater) State(id string) (UpdateState, bool) {
	u.mu.Lock()
	up, ok := u.updates[id]
	u.mu.Unlock()
	if !ok {
		return UpdateState{}, false
	}
	return up.snapshot(), true
}

func (u *Updater) track(id string, fw *FirmwareFile) (*update, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.updates[id]; exists {
		return nil, fmt.Errorf("firmware update on %s: %w", id, ErrUpdateActive)
	}
	up := &update{state: UpdateState{
		DeviceID:   id,
		Firmware:   fw.Name,
		Stage:      StageConnecting,
		TotalBytes: uint64(len(fw.Data)),
		StartedAt:  time.Now(),
	}}
	u.updates[id] = up
	return up, nil
}

func (u *Updater) untrack(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.updates, id)
}

// resetQuietly tells the camera to leave DFU mode. Failures are logged,
// never returned, so the primary error stays primary.
func (u *Updater) resetQuietly(id string) {
	transport, err := u.conns.Transport(id)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), u.requestTimeout)
	defer cancel()
	if err := transport.Write(wctx, controlAddr, []byte{byte(OpResetSystem)}, true); err != nil {
		u.logger.WithError(err).WithField("device", id).Warn("Reset request failed")
	}
}

// dropDevice is the manager's disconnect hook: cancel the device's running
// update. The update's unwind releases the guard and its control link.
func (u *Updater) dropDevice(deviceID string) {
	u.mu.Lock()
	up := u.updates[deviceID]
	u.mu.Unlock()
	if up == nil {
		return
	}
	up.mu.Lock()
	cancel := up.cancel
	up.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// controlLink routes control point notifications into response and receipt
// queues. DFU notifications are single fixed-size records, never fragmented,
// so no reassembly is needed.
type controlLink struct {
	log       *logrus.Entry
	responses chan Notification
	receipts  chan uint32
	unsub     gatt.Unsubscribe
	closeOnce sync.Once
}

func newControlLink(transport gatt.Transport, logger *logrus.Logger) (*controlLink, error) {
	l := &controlLink{
		log: logger.WithFields(logrus.Fields{
			"device":  transport.DeviceID(),
			"channel": controlAddr.String(),
		}),
		responses: make(chan Notification, 4),
		receipts:  make(chan uint32, 8),
	}
	unsub, err := transport.Subscribe(controlAddr, l.onNotification)
	if err != nil {
		return nil, fmt.Errorf("subscribe dfu control point: %w", err)
	}
	l.unsub = unsub
	return l, nil
}

// onNotification runs on the platform notification callback and must not block.
func (l *controlLink) onNotification(payload []byte) {
	n, err := ParseNotification(payload)
	if err != nil {
		l.log.WithError(err).Warn("Dropping control notification")
		return
	}
	switch n.Op {
	case OpResponse:
		select {
		case l.responses <- n:
		default:
			l.log.WithField("request", n.Request.String()).Warn("Dropping control response, queue full")
		}
	case OpPacketReceiptNotif:
		select {
		case l.receipts <- n.Received:
		default:
			l.log.WithField("received", n.Received).Warn("Dropping packet receipt, queue full")
		}
	}
}

// awaitStatus waits for the response to reqOp and demands success.
func (l *controlLink) awaitStatus(ctx context.Context, reqOp Opcode, timeout time.Duration) error {
	select {
	case n := <-l.responses:
		if n.Request != reqOp {
			return fmt.Errorf("%s: response names %s", reqOp, n.Request)
		}
		if n.Status != StatusSuccess {
			return &gatt.ResponseError{Op: reqOp.String(), Code: byte(n.Status), Message: n.Status.Message()}
		}
		return nil
	case <-time.After(timeout):
		return &gatt.TimeoutError{Op: fmt.Sprintf("response to %s", reqOp), Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *controlLink) awaitReceipt(ctx context.Context, timeout time.Duration) (uint32, error) {
	select {
	case received := <-l.receipts:
		return received, nil
	case <-time.After(timeout):
		return 0, &gatt.TimeoutError{Op: "packet receipt", Timeout: timeout}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *controlLink) close() {
	l.closeOnce.Do(func() {
		if l.unsub != nil {
			l.unsub()
		}
	})
}
