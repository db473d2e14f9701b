// Package ftp implements the camera's file transfer channel: directory
// listings, file metadata, and chunked downloads over the command/response
// envelope of the file transfer service.
//
// Downloads are pull-driven: the client requests one chunk at a time and
// advances its offset until the size reported by FILE_INFO is reached. The
// camera never pushes unrequested data, so a lost response surfaces as a
// chunk timeout rather than a gap.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"sort"
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
	commandAddr  = gatt.Address{Service: uuids.ServiceFileTransfer, Characteristic: uuids.CharFileTransferCommand}
	responseAddr = gatt.Address{Service: uuids.ServiceFileTransfer, Characteristic: uuids.CharFileTransferResponse}
)

// guardOp names the shared hold downloads keep on the device's operation
// guard. A firmware update cannot start while any hold remains.
const guardOp = "file transfer"

const defaultChunkSize = 4096

var (
	// ErrIsDirectory rejects download attempts on directories.
	ErrIsDirectory = errors.New("is a directory")

	// ErrTransferActive rejects a second download for a (device, path)
	// that already has one in flight.
	ErrTransferActive = errors.New("transfer already in progress")
)

// Connections is the slice of the connection manager the client needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
	TryAcquireShared(id, op string) bool
	ReleaseShared(id, op string)
	ActiveOp(id string) string
	RegisterCleanup(name string, fn func(deviceID string))
}

// DownloadOptions tune one download. The zero value takes the defaults.
type DownloadOptions struct {
	// ChunkSize is the number of bytes requested per READ_FILE_CHUNK.
	ChunkSize uint32 `default:"4096"`

	// ChunkTimeout bounds the wait for each chunk response. Zero takes
	// the configured chunk timeout.
	ChunkTimeout time.Duration
}

// DefaultDownloadOptions returns options with the tag defaults applied.
func DefaultDownloadOptions() *DownloadOptions {
	opts := &DownloadOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// Client speaks the file transfer protocol to connected cameras.
type Client struct {
	conns          Connections
	logger         *logrus.Logger
	requestTimeout time.Duration
	chunkTimeout   time.Duration

	mu        sync.Mutex
	exchanges map[string]*gatt.Exchange
	transfers map[transferKey]*transfer
	nextID    uint64
}

// New creates a file transfer client and registers its disconnect cleanup
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
		chunkTimeout:   cfg.ChunkTimeout,
		exchanges:      make(map[string]*gatt.Exchange),
		transfers:      make(map[transferKey]*transfer),
	}
	conns.RegisterCleanup("file-transfer", c.dropDevice)
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
		return nil, fmt.Errorf("file transfer channel: %w", err)
	}
	c.exchanges[id] = ex
	return ex, nil
}

// roundTrip sends one request and maps failure response codes to errors.
// OK, CONTINUE and END_OF_FILE pass through for the caller to interpret.
func (c *Client) roundTrip(ctx context.Context, id string, req gatt.Frame, timeout time.Duration, op string) (gatt.Frame, error) {
	ex, err := c.exchange(id)
	if err != nil {
		return gatt.Frame{}, err
	}
	resp, err := ex.Do(ctx, req, timeout)
	if err != nil {
		return gatt.Frame{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := responseToError(ResponseCode(resp.Code), op); err != nil {
		return gatt.Frame{}, err
	}
	return resp, nil
}

func responseToError(code ResponseCode, op string) error {
	switch code {
	case RespOK, RespContinue, RespEndOfFile:
		return nil
	case RespIsDirectory:
		return fmt.Errorf("%s: %w", op, ErrIsDirectory)
	default:
		return &gatt.ResponseError{Op: op, Code: byte(code), Message: code.Message()}
	}
}

// ListDirectory fetches and decodes the listing of a remote directory.
func (c *Client) ListDirectory(ctx context.Context, id, dir string) (*DirectoryListing, error) {
	resp, err := c.roundTrip(ctx, id, EncodeListDirRequest(dir), c.requestTimeout, fmt.Sprintf("list %s", dir))
	if err != nil {
		return nil, err
	}
	return DecodeListing(resp.Payload)
}

// GetFileInfo fetches metadata for a single remote path.
func (c *Client) GetFileInfo(ctx context.Context, id, filePath string) (*FileInfo, error) {
	resp, err := c.roundTrip(ctx, id, EncodeFileInfoRequest(filePath), c.requestTimeout, fmt.Sprintf("stat %s", filePath))
	if err != nil {
		return nil, err
	}
	return DecodeFileInfo(resp.Payload, filePath)
}

// DownloadFile pulls a remote file into memory chunk by chunk. onProgress,
// if set, runs after every chunk. At most one download per (device, path)
// may be in flight; a duplicate request fails with ErrTransferActive before
// anything is written to the device.
func (c *Client) DownloadFile(ctx context.Context, id, remotePath string, opts *DownloadOptions, onProgress ProgressFunc) ([]byte, error) {
	if opts == nil {
		opts = DefaultDownloadOptions()
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	chunkTimeout := opts.ChunkTimeout
	if chunkTimeout == 0 {
		chunkTimeout = c.chunkTimeout
	}

	if !c.conns.TryAcquireShared(id, guardOp) {
		return nil, &manager.BusyError{DeviceID: id, Op: c.conns.ActiveOp(id)}
	}

	tr, err := c.track(id, remotePath)
	if err != nil {
		c.conns.ReleaseShared(id, guardOp)
		return nil, err
	}

	dctx, cancel := context.WithCancel(ctx)
	tr.mu.Lock()
	tr.cancel = cancel
	tr.mu.Unlock()

	defer func() {
		cancel()
		c.untrack(id, remotePath)
		c.conns.ReleaseShared(id, guardOp)
	}()

	info, err := c.GetFileInfo(dctx, id, remotePath)
	if err != nil {
		c.fail(tr, err)
		return nil, err
	}
	if info.IsDirectory {
		err := fmt.Errorf("download %s: %w", remotePath, ErrIsDirectory)
		c.fail(tr, err)
		return nil, err
	}

	ex, err := c.exchange(id)
	if err != nil {
		c.fail(tr, err)
		return nil, err
	}

	tr.update(func(item *TransferItem) {
		item.TotalBytes = info.Size
		item.Status = TransferTransferring
	})
	c.logger.WithFields(logrus.Fields{
		"device": id,
		"path":   remotePath,
		"size":   info.Size,
	}).Info("Download started")

	data := make([]byte, 0, info.Size)
	start := time.Now()

	for uint64(len(data)) < info.Size {
		// a cancel only stops the next chunk from being scheduled
		if dctx.Err() != nil {
			werr := fmt.Errorf("download %s: %w", remotePath, dctx.Err())
			c.abortQuietly(id, remotePath)
			c.fail(tr, werr)
			return nil, werr
		}

		offset := uint64(len(data))
		ask := chunkSize
		if remaining := info.Size - offset; remaining < uint64(ask) {
			ask = uint32(remaining)
		}

		resp, err := ex.Do(dctx, EncodeChunkRequest(remotePath, offset, ask), chunkTimeout)
		if err != nil {
			werr := fmt.Errorf("download %s at offset %d: %w", remotePath, offset, err)
			c.abortQuietly(id, remotePath)
			c.fail(tr, werr)
			return nil, werr
		}

		switch code := ResponseCode(resp.Code); code {
		case RespOK, RespContinue:
		case RespEndOfFile:
			werr := fmt.Errorf("download %s: file ended at %d of %d bytes", remotePath, offset, info.Size)
			c.fail(tr, werr)
			return nil, werr
		default:
			werr := responseToError(code, fmt.Sprintf("download %s", remotePath))
			c.fail(tr, werr)
			return nil, werr
		}

		if len(resp.Payload) == 0 {
			werr := fmt.Errorf("download %s: empty chunk at offset %d", remotePath, offset)
			c.abortQuietly(id, remotePath)
			c.fail(tr, werr)
			return nil, werr
		}

		data = append(data, resp.Payload...)
		tr.update(func(item *TransferItem) {
			item.Offset = uint64(len(data))
			item.Transferred = uint64(len(data))
		})

		if onProgress != nil {
			elapsed := time.Since(start).Seconds()
			var speed float64
			if elapsed > 0 {
				speed = float64(len(data)) / elapsed
			}
			onProgress(Progress{
				TransferredBytes: uint64(len(data)),
				TotalBytes:       info.Size,
				Percentage:       float64(len(data)) / float64(info.Size) * 100,
				Speed:            speed,
			})
		}
	}

	if uint64(len(data)) != info.Size {
		werr := fmt.Errorf("download %s: received %d bytes, expected %d", remotePath, len(data), info.Size)
		c.fail(tr, werr)
		return nil, werr
	}

	tr.update(func(item *TransferItem) { item.Status = TransferCompleted })
	c.logger.WithFields(logrus.Fields{
		"device": id,
		"path":   remotePath,
		"bytes":  len(data),
	}).Info("Download completed")
	return data, nil
}

// CancelTransfer stops the download for (device, path) before its next
// chunk. The transfer's own unwind sends the abort to the camera.
func (c *Client) CancelTransfer(id, remotePath string) error {
	c.mu.Lock()
	tr, ok := c.transfers[transferKey{deviceID: id, path: remotePath}]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active transfer for %s on %s", remotePath, id)
	}
	tr.mu.Lock()
	cancel := tr.cancel
	tr.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ActiveTransfers snapshots the device's in-flight downloads, oldest first.
func (c *Client) ActiveTransfers(id string) []TransferItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	var items []TransferItem
	for key, tr := range c.transfers {
		if key.deviceID == id {
			items = append(items, tr.snapshot())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].StartedAt.Equal(items[j].StartedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].StartedAt.Before(items[j].StartedAt)
	})
	return items
}

func (c *Client) track(id, remotePath string) (*transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := transferKey{deviceID: id, path: remotePath}
	if _, exists := c.transfers[key]; exists {
		return nil, fmt.Errorf("download %s on %s: %w", remotePath, id, ErrTransferActive)
	}
	c.nextID++
	now := time.Now()
	tr := &transfer{item: TransferItem{
		ID:        fmt.Sprintf("transfer-%d", c.nextID),
		DeviceID:  id,
		Path:      remotePath,
		Status:    TransferPending,
		StartedAt: now,
		UpdatedAt: now,
	}}
	c.transfers[key] = tr
	return tr, nil
}

func (c *Client) untrack(id, remotePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transfers, transferKey{deviceID: id, path: remotePath})
}

func (c *Client) fail(tr *transfer, err error) {
	tr.update(func(item *TransferItem) {
		item.Status = TransferFailed
		item.Error = err.Error()
	})
}

// abortQuietly tells the camera to drop the transfer. Failures are logged,
// never returned, so the primary error stays primary.
func (c *Client) abortQuietly(id, remotePath string) {
	transport, err := c.conns.Transport(id)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()
	if err := transport.Write(wctx, commandAddr, gatt.EncodeFrame(EncodeAbortRequest(remotePath)), true); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device": id,
			"path":   remotePath,
		}).Warn("Abort request failed")
	}
}

// dropDevice is the manager's disconnect hook: cancel every in-flight
// download and retire the exchange. It runs while the link is still up, so
// aborts can still reach the camera.
func (c *Client) dropDevice(deviceID string) {
	c.mu.Lock()
	var cancels []context.CancelFunc
	for key, tr := range c.transfers {
		if key.deviceID != deviceID {
			continue
		}
		tr.mu.Lock()
		if tr.cancel != nil {
			cancels = append(cancels, tr.cancel)
		}
		tr.mu.Unlock()
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
}
