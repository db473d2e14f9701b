package main

import (
	"errors"
	"fmt"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

// formatUserError turns driver errors into messages that tell the user what
// to do, not which layer failed. Anything unrecognized passes through.
func formatUserError(err error) string {
	var (
		busy     *driver.BusyError
		notFound *driver.NotFoundError
	)
	switch {
	case errors.Is(err, driver.ErrAdapterOff):
		return "Bluetooth is powered off - turn it on and retry"
	case errors.Is(err, driver.ErrAdapterUnauthorized):
		return "Bluetooth access is not authorized for this process"
	case errors.Is(err, driver.ErrAdapterUnavailable):
		return "no usable Bluetooth adapter found"
	case errors.As(err, &busy):
		return fmt.Sprintf("camera %s is busy (%s in progress)", busy.DeviceID, busy.Op)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s - the camera does not support this feature", describeMissing(notFound))
	case errors.Is(err, driver.ErrTimeout):
		return fmt.Sprintf("%s - the camera may be out of range", err)
	}
	return err.Error()
}

// describeMissing names a missing GATT resource in camera terms where the
// UUID table knows it, falling back to the raw error.
func describeMissing(e *driver.NotFoundError) string {
	if len(e.UUIDs) == 0 {
		return e.Error()
	}
	uuid := e.UUIDs[len(e.UUIDs)-1]
	if name := uuids.KnownName(uuid); name != "" {
		return fmt.Sprintf("the %s %s is missing", name, e.Resource)
	}
	return e.Error()
}
