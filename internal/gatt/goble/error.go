package goble

import (
	"fmt"
	"strings"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// NormalizeError maps known go-ble error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages
// slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", gatt.ErrAdapterOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", gatt.ErrAdapterOff, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", gatt.ErrAdapterUnauthorized, err)
	case containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", gatt.ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", gatt.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", gatt.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", gatt.ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
