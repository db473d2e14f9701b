// Package opp implements the object push side of the camera's transfer
// service: uploads of LUTs, presets, configuration documents and arbitrary
// files, plus a priority queue for batching them.
//
// Every upload is the same conversation: SET_PATH selects the directory,
// CHECK_SPACE reserves room, START_TRANSFER announces the file, SEND_CHUNK
// carries the bytes and END_TRANSFER seals them with a CRC32. When a step
// fails the client sends a best-effort CANCEL_TRANSFER so the camera does
// not sit on a half-open transfer.
package opp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/control"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/manager"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

var (
	commandAddr  = gatt.Address{Service: uuids.ServiceObjectPush, Characteristic: uuids.CharObjectPushCommand}
	responseAddr = gatt.Address{Service: uuids.ServiceObjectPush, Characteristic: uuids.CharObjectPushResponse}
)

// guardOp names the shared hold uploads keep on the device's operation
// guard. A firmware update cannot start while any hold remains.
const guardOp = "file upload"

const (
	defaultChunkSize    = 512
	defaultChunkTimeout = 30 * time.Second
)

// Remote directories the specialized helpers target.
const (
	lutDir    = "/luts"
	presetDir = "/presets"
	configDir = "/config"
)

var (
	// ErrFileExists reports a START_TRANSFER refused because the remote
	// file is already present and overwrite was not requested.
	ErrFileExists = errors.New("file already exists")

	// ErrUploadActive rejects a second upload for a (device, path) that
	// already has one in flight.
	ErrUploadActive = errors.New("upload already in progress")
)

// Connections is the slice of the connection manager the client needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
	TryAcquireShared(id, op string) bool
	ReleaseShared(id, op string)
	ActiveOp(id string) string
	RegisterCleanup(name string, fn func(deviceID string))
}

// UploadOptions tune one upload. The zero value takes the defaults.
type UploadOptions struct {
	// ChunkSize is the number of bytes sent per SEND_CHUNK.
	ChunkSize uint32 `default:"512"`

	// ChunkTimeout bounds the wait for each step's response. Zero takes
	// 30 seconds.
	ChunkTimeout time.Duration

	// Overwrite lets START_TRANSFER replace an existing remote file.
	Overwrite bool
}

// DefaultUploadOptions returns options with the tag defaults applied.
func DefaultUploadOptions() *UploadOptions {
	opts := &UploadOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Progress is reported to the caller after every sent chunk.
type Progress struct {
	TransferredBytes uint64
	TotalBytes       uint64
	Percentage       float64
	Speed            float64 // bytes per second over the whole upload
}

// ProgressFunc receives upload progress. Called on the upload's goroutine;
// keep it fast.
type ProgressFunc func(Progress)

// uploadKey identifies the one allowed in-flight upload per device and
// remote path.
type uploadKey struct {
	deviceID string
	path     string
}

// upload carries the in-flight state. cancel is guarded by the client mutex.
type upload struct {
	cancel context.CancelFunc
}

// Client speaks the object push protocol to connected cameras.
type Client struct {
	conns          Connections
	logger         *logrus.Logger
	requestTimeout time.Duration

	mu         sync.Mutex
	exchanges  map[string]*gatt.Exchange
	uploads    map[uploadKey]*upload
	queue      *orderedmap.OrderedMap[string, *queueItem]
	nextID     uint64
	paused     bool
	processing bool
	kick       chan struct{}
}

// New creates an object push client and registers its disconnect cleanup
// with the manager.
func New(conns Connections, cfg *config.Config, logger *logrus.Logger) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	c := &Client{
		conns:          conns,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		exchanges:      make(map[string]*gatt.Exchange),
		uploads:        make(map[uploadKey]*upload),
		queue:          orderedmap.New[string, *queueItem](),
		kick:           make(chan struct{}, 1),
	}
	conns.RegisterCleanup("object-push", c.dropDevice)
	return c
}

// exchange returns the device's cached command/response channel, creating it
// on first use.
func (c *Client) exchange(id string) (*gatt.Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ex, ok := c.exchanges[id]; ok {
		return ex, nil
	}
	transport, err := c.conns.Transport(id)
	if err != nil {
		return nil, err
	}
	ex, err := gatt.NewExchange(transport, commandAddr, responseAddr, c.logger)
	if err != nil {
		return nil, fmt.Errorf("object push channel: %w", err)
	}
	c.exchanges[id] = ex
	return ex, nil
}

// step sends one request and demands a non-failure response.
func (c *Client) step(ctx context.Context, ex *gatt.Exchange, req gatt.Frame, timeout time.Duration, op string) error {
	resp, err := ex.Do(ctx, req, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return responseToError(ResponseCode(resp.Code), op)
}

func responseToError(code ResponseCode, op string) error {
	switch code {
	case RespOK, RespContinue:
		return nil
	case RespFileExists:
		return fmt.Errorf("%s: %w", op, ErrFileExists)
	default:
		return &gatt.ResponseError{Op: op, Code: byte(code), Message: code.Message()}
	}
}

// UploadFile pushes data to remoteDir/name chunk by chunk. onProgress, if
// set, runs after every chunk. At most one upload per (device, path) may be
// in flight; a duplicate request fails with ErrUploadActive before anything
// is written to the device.
func (c *Client) UploadFile(ctx context.Context, id, remoteDir, name string, data []byte, opts *UploadOptions, onProgress ProgressFunc) error {
	if opts == nil {
		opts = DefaultUploadOptions()
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	timeout := opts.ChunkTimeout
	if timeout == 0 {
		timeout = defaultChunkTimeout
	}

	remotePath := path.Join(remoteDir, name)

	if !c.conns.TryAcquireShared(id, guardOp) {
		return &manager.BusyError{DeviceID: id, Op: c.conns.ActiveOp(id)}
	}

	up, err := c.track(id, remotePath)
	if err != nil {
		c.conns.ReleaseShared(id, guardOp)
		return err
	}

	uctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	up.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.untrack(id, remotePath)
		c.conns.ReleaseShared(id, guardOp)
	}()

	ex, err := c.exchange(id)
	if err != nil {
		return err
	}

	size := uint64(len(data))
	c.logger.WithFields(logrus.Fields{
		"device": id,
		"path":   remotePath,
		"size":   size,
	}).Info("Upload started")

	if err := c.step(uctx, ex, EncodeSetPathRequest(remoteDir), timeout, fmt.Sprintf("upload %s: set path", remotePath)); err != nil {
		c.cancelQuietly(id, remotePath)
		return err
	}
	if err := c.step(uctx, ex, EncodeCheckSpaceRequest(size), timeout, fmt.Sprintf("upload %s: check space", remotePath)); err != nil {
		c.cancelQuietly(id, remotePath)
		return err
	}
	if err := c.step(uctx, ex, EncodeStartTransferRequest(name, size, opts.Overwrite), timeout, fmt.Sprintf("upload %s: start", remotePath)); err != nil {
		c.cancelQuietly(id, remotePath)
		return err
	}

	start := time.Now()
	var sent uint64
	for sent < size {
		// a cancel only stops the next chunk from being sent
		if uctx.Err() != nil {
			werr := fmt.Errorf("upload %s: %w", remotePath, uctx.Err())
			c.cancelQuietly(id, remotePath)
			return werr
		}

		end := sent + uint64(chunkSize)
		if end > size {
			end = size
		}
		op := fmt.Sprintf("upload %s at offset %d", remotePath, sent)
		if err := c.step(uctx, ex, EncodeChunk(sent, data[sent:end]), timeout, op); err != nil {
			c.cancelQuietly(id, remotePath)
			return err
		}
		sent = end

		if onProgress != nil {
			elapsed := time.Since(start).Seconds()
			var speed float64
			if elapsed > 0 {
				speed = float64(sent) / elapsed
			}
			onProgress(Progress{
				TransferredBytes: sent,
				TotalBytes:       size,
				Percentage:       float64(sent) / float64(size) * 100,
				Speed:            speed,
			})
		}
	}

	crc := crc32.ChecksumIEEE(data)
	if err := c.step(uctx, ex, EncodeEndTransferRequest(crc), timeout, fmt.Sprintf("upload %s: finish", remotePath)); err != nil {
		c.cancelQuietly(id, remotePath)
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"device": id,
		"path":   remotePath,
		"bytes":  size,
	}).Info("Upload completed")
	return nil
}

// UploadLUT validates a .cube lookup table, renders it and uploads it to the
// camera's LUT directory. The .cube extension is appended when missing.
func (c *Client) UploadLUT(ctx context.Context, id, name string, lut *LUT) error {
	if lut == nil {
		return fmt.Errorf("upload LUT %s: %w: no table", name, ErrInvalidLUT)
	}
	if err := lut.Validate(); err != nil {
		return fmt.Errorf("upload LUT %s: %w", name, err)
	}
	return c.UploadFile(ctx, id, lutDir, ensureExt(name, ".cube"), lut.EncodeCube(), nil, nil)
}

// UploadPreset serializes a camera settings preset as JSON and uploads it to
// the preset directory.
func (c *Client) UploadPreset(ctx context.Context, id, name string, preset *control.CameraSettings) error {
	if preset == nil {
		return fmt.Errorf("upload preset %s: no settings", name)
	}
	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preset %s: %w", name, err)
	}
	return c.UploadFile(ctx, id, presetDir, ensureExt(name, ".json"), data, nil, nil)
}

// UploadConfigFile serializes a configuration document as JSON and uploads
// it to the config directory.
func (c *Client) UploadConfigFile(ctx context.Context, id, name string, doc any) error {
	if doc == nil {
		return fmt.Errorf("upload config %s: no document", name)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config %s: %w", name, err)
	}
	return c.UploadFile(ctx, id, configDir, ensureExt(name, ".json"), data, nil, nil)
}

func ensureExt(name, ext string) string {
	if strings.HasSuffix(strings.ToLower(name), ext) {
		return name
	}
	return name + ext
}

func (c *Client) track(id, remotePath string) (*upload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := uploadKey{deviceID: id, path: remotePath}
	if _, exists := c.uploads[key]; exists {
		return nil, fmt.Errorf("upload %s on %s: %w", remotePath, id, ErrUploadActive)
	}
	up := &upload{}
	c.uploads[key] = up
	return up, nil
}

func (c *Client) untrack(id, remotePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uploads, uploadKey{deviceID: id, path: remotePath})
}

// cancelQuietly tells the camera to drop its inbound transfer. Failures are
// logged, never returned, so the primary error stays primary.
func (c *Client) cancelQuietly(id, remotePath string) {
	transport, err := c.conns.Transport(id)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()
	if err := transport.Write(wctx, commandAddr, gatt.EncodeFrame(EncodeCancelRequest()), true); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device": id,
			"path":   remotePath,
		}).Warn("Cancel request failed")
	}
}

// dropDevice is the manager's disconnect hook: cancel the device's in-flight
// uploads, drop its waiting queue entries and retire the exchange.
func (c *Client) dropDevice(deviceID string) {
	c.mu.Lock()
	var cancels []context.CancelFunc
	for key, up := range c.uploads {
		if key.deviceID != deviceID {
			continue
		}
		if up.cancel != nil {
			cancels = append(cancels, up.cancel)
		}
	}
	var stale []string
	for pair := c.queue.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.view.DeviceID == deviceID && pair.Value.view.Status == QueueWaiting {
			stale = append(stale, pair.Key)
		}
	}
	for _, key := range stale {
		c.queue.Delete(key)
	}
	ex := c.exchanges[deviceID]
	delete(c.exchanges, deviceID)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if ex != nil {
		ex.Close()
	}
	if len(stale) > 0 {
		c.logger.WithFields(logrus.Fields{
			"device": deviceID,
			"count":  len(stale),
		}).Info("Dropped queued uploads")
	}
	// a parked ProcessQueue must notice its entries are gone
	c.wake()
}
