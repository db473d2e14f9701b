package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/groutine"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

const (
	// DefaultConnectTimeout bounds dial plus profile discovery.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout prevents indefinite blocking if the camera becomes
	// unresponsive during a read.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteChunkSize is the maximum number of bytes written in a single
	// operation. BLE 4.0/4.1 defines an ATT_MTU of 23 bytes (20 bytes payload
	// after ATT header overhead); 20-byte chunks work on every link version.
	DefaultWriteChunkSize = 20

	// DefaultWriteDelay is the pause after each chunk so the camera's receive
	// buffer is never overrun.
	DefaultWriteDelay = 10 * time.Millisecond
)

// ConnectOptions tunes connection establishment.
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

// charEntry tracks one discovered characteristic: its live handle and the
// registered notification handlers.
type charEntry struct {
	char    *ble.Characteristic
	service string

	mu       sync.RWMutex
	handlers map[uint64]func([]byte)
	nextID   uint64
	active   bool // platform subscription established
}

func (e *charEntry) dispatch(data []byte) {
	e.mu.RLock()
	handlers := make([]func([]byte), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	// Each handler gets its own copy; the platform reuses the buffer.
	for _, h := range handlers {
		buf := make([]byte, len(data))
		copy(buf, data)
		h(buf)
	}
}

// Client is a live connection to one camera implementing gatt.Transport.
type Client struct {
	deviceID string
	logger   *logrus.Logger

	connMutex  sync.RWMutex
	writeMutex sync.Mutex // serializes chunked writes
	client     ble.Client
	connected  bool
	services   map[string]map[string]*charEntry

	disconnected chan struct{}
	ctx          context.Context
	cancel       context.CancelCauseFunc
}

// Connect dials the camera, discovers its profile, and returns a live client.
// The returned client stays valid until Close or link loss; the Disconnected
// channel is closed in either case.
func Connect(ctx context.Context, deviceID string, opts ConnectOptions, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	if _, err := Platform(); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"address": deviceID,
		"timeout": timeout,
	}).Info("Connecting to camera...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", deviceID, NormalizeError(err))
	}

	logger.WithField("address", deviceID).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("cancelError", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	c := &Client{
		deviceID:     deviceID,
		logger:       logger,
		client:       client,
		connected:    true,
		services:     make(map[string]map[string]*charEntry),
		disconnected: make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancelCause(ctx)

	totalChars := 0
	for _, svc := range profile.Services {
		svcUUID := uuids.NormalizeUUID(svc.UUID.String())
		chars, ok := c.services[svcUUID]
		if !ok {
			chars = make(map[string]*charEntry)
			c.services[svcUUID] = chars
		}
		for _, ch := range svc.Characteristics {
			charUUID := uuids.NormalizeUUID(ch.UUID.String())
			chars[charUUID] = &charEntry{
				char:     ch,
				service:  svcUUID,
				handlers: make(map[uint64]func([]byte)),
			}
			totalChars++
		}
	}

	// Watch the platform link-loss channel where the client exposes one.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(c.ctx, "ble-link-monitor", func(monitorCtx context.Context) {
			select {
			case <-dc.Disconnected():
				logger.WithField("address", deviceID).Warn("Platform reported link loss")
				c.markDisconnected(gatt.ErrNotConnected)
			case <-monitorCtx.Done():
			}
		})
	} else {
		logger.Debug("Client does not expose a Disconnected() channel")
	}

	logger.WithFields(logrus.Fields{
		"address":         deviceID,
		"services":        len(c.services),
		"characteristics": totalChars,
	}).Info("Camera connected")
	return c, nil
}

// markDisconnected flips the connected flag exactly once and wakes everything
// waiting on the Disconnected channel. Returns false when already flipped.
func (c *Client) markDisconnected(cause error) bool {
	c.connMutex.Lock()
	if !c.connected {
		c.connMutex.Unlock()
		return false
	}
	c.connected = false
	c.connMutex.Unlock()

	c.cancel(cause)
	close(c.disconnected)
	return true
}

// DeviceID returns the camera address this client is bound to.
func (c *Client) DeviceID() string { return c.deviceID }

// Disconnected is closed when the link goes away, whether through Close or
// a platform-reported link loss.
func (c *Client) Disconnected() <-chan struct{} { return c.disconnected }

// IsConnected reports whether the link is still up.
func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// DiscoveredServices returns the normalized UUIDs of all discovered services,
// sorted for consistent ordering.
func (c *Client) DiscoveredServices() []string {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	result := make([]string, 0, len(c.services))
	for svcUUID := range c.services {
		result = append(result, svcUUID)
	}
	sort.Strings(result)
	return result
}

// lookup resolves addr to its live characteristic entry. Callers receive the
// client snapshot so operations run without holding connMutex.
func (c *Client) lookup(addr gatt.Address) (*charEntry, ble.Client, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if c.client == nil || !c.connected {
		return nil, nil, gatt.ErrNotConnected
	}

	svcUUID := uuids.NormalizeUUID(addr.Service)
	charUUID := uuids.NormalizeUUID(addr.Characteristic)

	chars, ok := c.services[svcUUID]
	if !ok {
		return nil, nil, &gatt.NotFoundError{Resource: "service", UUIDs: []string{addr.Service}}
	}
	entry, ok := chars[charUUID]
	if !ok {
		return nil, nil, &gatt.NotFoundError{Resource: "characteristic", UUIDs: []string{addr.Service, addr.Characteristic}}
	}
	return entry, c.client, nil
}

// Read reads the current value of the addressed characteristic. The timeout is
// the ctx deadline when one is set, capped at DefaultReadTimeout.
func (c *Client) Read(ctx context.Context, addr gatt.Address) ([]byte, error) {
	entry, client, err := c.lookup(addr)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", addr, err)
	}

	timeout := DefaultReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	data, err := gatt.Await(ctx, fmt.Sprintf("read %s", addr), timeout, func() ([]byte, error) {
		return client.ReadCharacteristic(entry.char)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", addr, NormalizeError(err))
	}
	return data, nil
}

// Write writes payload to the addressed characteristic in link-sized chunks,
// pausing after each so the camera's receive buffer keeps up. Writes across
// all characteristics are serialized.
func (c *Client) Write(ctx context.Context, addr gatt.Address, payload []byte, withResponse bool) error {
	entry, client, err := c.lookup(addr)
	if err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	data := payload
	for len(data) > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("write %s: %w", addr, ctx.Err())
		default:
		}

		n := len(data)
		if n > DefaultWriteChunkSize {
			n = DefaultWriteChunkSize
		}
		if err := client.WriteCharacteristic(entry.char, data[:n], !withResponse); err != nil {
			return fmt.Errorf("write %s: %w", addr, NormalizeError(err))
		}
		data = data[n:]
		time.Sleep(DefaultWriteDelay)
	}
	return nil
}

// Subscribe registers handler for notifications from the addressed
// characteristic. The platform subscription is established on the first
// handler and torn down when the last one unsubscribes.
func (c *Client) Subscribe(addr gatt.Address, handler func([]byte)) (gatt.Unsubscribe, error) {
	entry, client, err := c.lookup(addr)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", addr, err)
	}

	if entry.char.Property&ble.CharNotify == 0 && entry.char.Property&ble.CharIndicate == 0 {
		return nil, fmt.Errorf("subscribe %s: no notification support: %w", addr, gatt.ErrUnsupported)
	}

	entry.mu.Lock()
	id := entry.nextID
	entry.nextID++
	entry.handlers[id] = handler
	needsPlatform := !entry.active
	if needsPlatform {
		entry.active = true
	}
	entry.mu.Unlock()

	if needsPlatform {
		err := NormalizeError(client.Subscribe(entry.char, false, entry.dispatch))
		if err != nil {
			entry.mu.Lock()
			delete(entry.handlers, id)
			entry.active = false
			entry.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: %w", addr, err)
		}
		c.logger.WithField("address", addr.String()).Debug("Subscribed to notifications")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.removeHandler(addr, entry, id)
		})
	}, nil
}

// removeHandler drops one handler and tears down the platform subscription
// when none remain. Remote unsubscribe is best-effort; the link may be gone.
func (c *Client) removeHandler(addr gatt.Address, entry *charEntry, id uint64) {
	entry.mu.Lock()
	delete(entry.handlers, id)
	last := entry.active && len(entry.handlers) == 0
	if last {
		entry.active = false
	}
	entry.mu.Unlock()

	if !last {
		return
	}

	c.connMutex.RLock()
	client := c.client
	connected := c.connected
	c.connMutex.RUnlock()
	if client == nil || !connected {
		return
	}

	if err := c.tryUnsubscribe(client, entry); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": addr.String(),
			"error":   err,
		}).Warn("Failed to unsubscribe from notifications")
	}
}

// tryUnsubscribe attempts to unsubscribe using both notify and indicate modes.
// Returns an error only if both modes fail.
func (c *Client) tryUnsubscribe(client ble.Client, entry *charEntry) error {
	err1 := NormalizeError(client.Unsubscribe(entry.char, false)) // notify
	err2 := NormalizeError(client.Unsubscribe(entry.char, true))  // indicate

	if err1 != nil && err2 != nil {
		return fmt.Errorf("notify=%v, indicate=%v", err1, err2)
	}
	return nil
}

// Close tears the connection down: platform unsubscribes for every active
// characteristic, then the connection itself, all outside the state lock.
// Safe to call more than once.
func (c *Client) Close() error {
	c.markDisconnected(nil)

	c.connMutex.Lock()
	client := c.client
	c.client = nil
	services := c.services
	c.connMutex.Unlock()

	if client == nil {
		c.logger.Debug("Close called but already closed")
		return nil
	}

	var unsubErrors []string
	for svcUUID, chars := range services {
		for charUUID, entry := range chars {
			entry.mu.Lock()
			active := entry.active
			entry.active = false
			entry.handlers = make(map[uint64]func([]byte))
			entry.mu.Unlock()

			if !active {
				continue
			}
			if err := c.tryUnsubscribe(client, entry); err != nil {
				unsubErrors = append(unsubErrors, fmt.Sprintf("%s (in service %s): %v", charUUID, svcUUID, err))
			}
		}
	}
	if len(unsubErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	err := client.CancelConnection()
	if err != nil {
		c.logger.WithField("error", err).Warn("Camera disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("Camera disconnected")
	return nil
}
