package gatt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/groutine"
)

const (
	// DefaultExchangeBuffer sizes the fragment ring between the notification
	// callback and the frame parser.
	DefaultExchangeBuffer = 8192

	frameQueueDepth = 8
)

// Exchange correlates command frames written to one characteristic with
// response frames notified on another. Notifications arrive fragmented at
// link-packet granularity; the exchange reassembles them into complete
// envelope frames. One request is in flight at a time.
type Exchange struct {
	transport  Transport
	writeAddr  Address
	notifyAddr Address
	log        *logrus.Entry

	mu     sync.Mutex // serializes Do
	frames chan Frame

	fragments *ringbuffer.RingBuffer
	dataReady chan struct{}
	unsub     Unsubscribe
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewExchange subscribes to notifyAddr and starts the reassembly loop.
// Callers must Close the exchange when the channel is no longer needed.
func NewExchange(transport Transport, writeAddr, notifyAddr Address, logger *logrus.Logger) (*Exchange, error) {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exchange{
		transport:  transport,
		writeAddr:  writeAddr,
		notifyAddr: notifyAddr,
		log: logger.WithFields(logrus.Fields{
			"device":  transport.DeviceID(),
			"channel": notifyAddr.String(),
		}),
		frames:    make(chan Frame, frameQueueDepth),
		fragments: ringbuffer.New(DefaultExchangeBuffer),
		dataReady: make(chan struct{}, 1), // buffered so the signal never blocks
		cancel:    cancel,
	}

	unsub, err := transport.Subscribe(notifyAddr, e.onNotification)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe response channel %s: %w", notifyAddr, err)
	}
	e.unsub = unsub

	groutine.Go(ctx, "gatt-exchange-parser", func(ctx context.Context) {
		e.parseLoop(ctx)
	})

	return e, nil
}

// onNotification runs on the platform notification callback and must not block.
func (e *Exchange) onNotification(payload []byte) {
	n, err := e.fragments.Write(payload)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		e.log.WithError(err).Warn("Dropping response fragment")
		return
	}
	if n < len(payload) {
		e.log.WithField("dropped", len(payload)-n).Warn("Response buffer overflow")
	}
	select {
	case e.dataReady <- struct{}{}:
	default:
	}
}

func (e *Exchange) parseLoop(ctx context.Context) {
	scratch := make([]byte, 512)
	var partial []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.dataReady:
		}

		for {
			n, err := e.fragments.TryRead(scratch)
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				e.log.WithError(err).Warn("Response buffer read failed")
				break
			}
			if n == 0 {
				break
			}
			partial = append(partial, scratch[:n]...)
		}

		partial = e.extractFrames(partial)
	}
}

// extractFrames emits every complete frame at the head of buf and returns the
// leftover partial bytes.
func (e *Exchange) extractFrames(buf []byte) []byte {
	for len(buf) >= FrameHeaderSize {
		payloadLen := binary.LittleEndian.Uint32(buf[1:FrameHeaderSize])
		if payloadLen > MaxFramePayload {
			e.log.WithField("declaredLen", payloadLen).Error("Response stream desynchronized, resetting")
			return nil
		}
		total := FrameHeaderSize + int(payloadLen)
		if len(buf) < total {
			break
		}
		e.deliver(Frame{
			Code:    buf[0],
			Payload: append([]byte(nil), buf[FrameHeaderSize:total]...),
		})
		buf = buf[total:]
	}
	if len(buf) == 0 {
		return nil
	}
	// Reslice into a fresh array so delivered frames don't pin the old one.
	return append([]byte(nil), buf...)
}

func (e *Exchange) deliver(f Frame) {
	select {
	case e.frames <- f:
	default:
		// Queue full, drop the oldest
		select {
		case old := <-e.frames:
			e.log.WithField("code", fmt.Sprintf("0x%02x", old.Code)).Warn("Dropping stale response frame")
		default:
		}
		select {
		case e.frames <- f:
		default:
		}
	}
}

// Do writes one command frame and waits for the next complete response frame.
func (e *Exchange) Do(ctx context.Context, req Frame, timeout time.Duration) (Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Frames left over from an earlier timed-out request must not be taken
	// as the answer to this one.
	e.drainStale()

	if err := e.transport.Write(ctx, e.writeAddr, EncodeFrame(req), true); err != nil {
		return Frame{}, fmt.Errorf("write command 0x%02x to %s: %w", req.Code, e.writeAddr, err)
	}

	select {
	case resp := <-e.frames:
		return resp, nil
	case <-time.After(timeout):
		return Frame{}, &TimeoutError{
			Op:      fmt.Sprintf("response to command 0x%02x on %s", req.Code, e.notifyAddr),
			Timeout: timeout,
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (e *Exchange) drainStale() {
	for {
		select {
		case f := <-e.frames:
			e.log.WithField("code", fmt.Sprintf("0x%02x", f.Code)).Debug("Discarding stale response frame")
		default:
			return
		}
	}
}

// Close unsubscribes from the response channel and stops the parser.
// Safe to call more than once.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		if e.unsub != nil {
			e.unsub()
		}
	})
}
