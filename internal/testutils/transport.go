package testutils

import (
	"context"
	"sync"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// WriteRecord captures a single write issued through a FakeTransport.
type WriteRecord struct {
	Addr         gatt.Address
	Payload      []byte
	WithResponse bool
}

// FakeTransport is a scripted in-memory gatt.Transport. Reads return
// queued values per address, writes are recorded, and Notify injects
// notification payloads into registered subscribers. Protocol tests run
// entirely against this fake with no radio involved.
//
// Scripted read values are consumed in order; the final value repeats,
// which keeps polling loops fed without scripting every iteration.
type FakeTransport struct {
	mu            sync.Mutex
	deviceID      string
	reads         map[gatt.Address][][]byte
	readErrs      map[gatt.Address]error
	writeErrs     map[gatt.Address]error
	subscribeErrs map[gatt.Address]error
	writes        []WriteRecord
	handlers      map[gatt.Address]map[int]func([]byte)
	nextHandler   int
	onWrite       func(w WriteRecord)
}

// NewFakeTransport creates a fake transport for the given device id.
func NewFakeTransport(deviceID string) *FakeTransport {
	return &FakeTransport{
		deviceID:      deviceID,
		reads:         make(map[gatt.Address][][]byte),
		readErrs:      make(map[gatt.Address]error),
		writeErrs:     make(map[gatt.Address]error),
		subscribeErrs: make(map[gatt.Address]error),
		handlers:      make(map[gatt.Address]map[int]func([]byte)),
	}
}

// WithReadValue queues read responses for the given address.
func (f *FakeTransport) WithReadValue(addr gatt.Address, payloads ...[]byte) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[addr] = append(f.reads[addr], payloads...)
	return f
}

// WithReadError makes reads of the given address fail.
func (f *FakeTransport) WithReadError(addr gatt.Address, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs[addr] = err
	return f
}

// WithWriteError makes writes to the given address fail.
func (f *FakeTransport) WithWriteError(addr gatt.Address, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs[addr] = err
	return f
}

// WithSubscribeError makes subscriptions to the given address fail.
func (f *FakeTransport) WithSubscribeError(addr gatt.Address, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErrs[addr] = err
	return f
}

// OnWrite installs a hook invoked after each successful write, outside
// the transport lock, so the hook may call Notify to script a response.
func (f *FakeTransport) OnWrite(hook func(w WriteRecord)) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWrite = hook
	return f
}

// DeviceID implements gatt.Transport.
func (f *FakeTransport) DeviceID() string {
	return f.deviceID
}

// Read implements gatt.Transport.
func (f *FakeTransport) Read(ctx context.Context, addr gatt.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.readErrs[addr]; err != nil {
		return nil, err
	}
	queue := f.reads[addr]
	if len(queue) == 0 {
		return nil, &gatt.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{addr.Service, addr.Characteristic},
		}
	}
	value := queue[0]
	if len(queue) > 1 {
		f.reads[addr] = queue[1:]
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Write implements gatt.Transport.
func (f *FakeTransport) Write(ctx context.Context, addr gatt.Address, payload []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if err := f.writeErrs[addr]; err != nil {
		f.mu.Unlock()
		return err
	}
	record := WriteRecord{
		Addr:         addr,
		Payload:      append([]byte(nil), payload...),
		WithResponse: withResponse,
	}
	f.writes = append(f.writes, record)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(record)
	}
	return nil
}

// Subscribe implements gatt.Transport.
func (f *FakeTransport) Subscribe(addr gatt.Address, handler func(payload []byte)) (gatt.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.subscribeErrs[addr]; err != nil {
		return nil, err
	}
	if f.handlers[addr] == nil {
		f.handlers[addr] = make(map[int]func([]byte))
	}
	id := f.nextHandler
	f.nextHandler++
	f.handlers[addr][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.handlers[addr], id)
		})
	}, nil
}

// Notify delivers a notification payload to all subscribers of addr.
// Each handler receives its own copy.
func (f *FakeTransport) Notify(addr gatt.Address, payload []byte) {
	f.mu.Lock()
	snapshot := make([]func([]byte), 0, len(f.handlers[addr]))
	for _, h := range f.handlers[addr] {
		snapshot = append(snapshot, h)
	}
	f.mu.Unlock()

	for _, h := range snapshot {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		h(buf)
	}
}

// NotifyChunked delivers payload as a series of notifications no larger
// than chunkSize bytes, the way an MTU-limited link fragments a frame.
func (f *FakeTransport) NotifyChunked(addr gatt.Address, payload []byte, chunkSize int) {
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		f.Notify(addr, payload[:n])
		payload = payload[n:]
	}
}

// Writes returns a snapshot of all recorded writes.
func (f *FakeTransport) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteRecord, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the payloads written to the given address, in order.
func (f *FakeTransport) WritesTo(addr gatt.Address) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.Addr == addr {
			out = append(out, w.Payload)
		}
	}
	return out
}

// ClearWrites discards recorded writes, typically between test phases.
func (f *FakeTransport) ClearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// HandlerCount reports how many subscribers the given address has.
func (f *FakeTransport) HandlerCount(addr gatt.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[addr])
}

// FakeConn wraps a FakeTransport with the link-lifetime surface the
// connection manager expects from a platform connection.
type FakeConn struct {
	*FakeTransport
	services  []string
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFakeConn creates a connected fake for the given device id.
func NewFakeConn(deviceID string) *FakeConn {
	return &FakeConn{
		FakeTransport: NewFakeTransport(deviceID),
		closed:        make(chan struct{}),
	}
}

// WithServices scripts the service inventory the fake reports as discovered.
// Script before handing the fake to a connect seam.
func (c *FakeConn) WithServices(uuids ...string) *FakeConn {
	c.services = append(c.services, uuids...)
	return c
}

// DiscoveredServices returns the scripted service inventory.
func (c *FakeConn) DiscoveredServices() []string {
	out := make([]string, len(c.services))
	copy(out, c.services)
	return out
}

// Disconnected returns a channel closed when the link goes away.
func (c *FakeConn) Disconnected() <-chan struct{} {
	return c.closed
}

// Close tears the fake link down. Safe to call more than once.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// DropLink simulates the remote side vanishing, as a camera powering
// off mid-session would.
func (c *FakeConn) DropLink() {
	c.closeOnce.Do(func() { close(c.closed) })
}
