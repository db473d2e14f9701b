// Package gatt defines the transport contract the camera protocols are built
// on: characteristic addressing, binary payload transport, notification
// subscriptions, and the shared timeout/framing helpers.
package gatt

import (
	"context"
	"fmt"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

// Address identifies a characteristic by its (service, characteristic) UUID
// pair. Either part may be given in short or full form; implementations
// normalize before lookup.
type Address struct {
	Service        string
	Characteristic string
}

// String renders the address in shortened form for logs and error messages.
func (a Address) String() string {
	return fmt.Sprintf("%s/%s",
		uuids.ShortenUUID(uuids.NormalizeUUID(a.Service)),
		uuids.ShortenUUID(uuids.NormalizeUUID(a.Characteristic)))
}

// Unsubscribe removes a notification subscription. Implementations are
// idempotent and safe to call after the connection is gone.
type Unsubscribe func()

// Transport is the per-device GATT surface the protocol layers operate on.
// Payloads are raw binary; text-safe encoding only happens at presentation
// boundaries (see EncodeText/DecodeText).
type Transport interface {
	// DeviceID returns the identifier of the connected device.
	DeviceID() string

	// Read reads the current value of the addressed characteristic.
	Read(ctx context.Context, addr Address) ([]byte, error)

	// Write writes payload to the addressed characteristic. With
	// withResponse false the write is unacknowledged (used by streaming
	// paths such as firmware packets).
	Write(ctx context.Context, addr Address, payload []byte, withResponse bool) error

	// Subscribe registers handler for notifications from the addressed
	// characteristic. The handler owns the payload slice it receives.
	Subscribe(addr Address, handler func(payload []byte)) (Unsubscribe, error)
}
