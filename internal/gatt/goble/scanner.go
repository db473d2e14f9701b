package goble

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/go-ble/ble"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

// Advertisement is a snapshot of one received advertisement with UUIDs
// normalized and the best available name already resolved.
type Advertisement struct {
	ID               string
	Name             string
	RSSI             int
	TxPower          *int
	Connectable      bool
	Services         []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
}

func newAdvertisement(adv ble.Advertisement) Advertisement {
	a := Advertisement{
		ID:               adv.Addr().String(),
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		ManufacturerData: adv.ManufacturerData(),
		ServiceData:      make(map[string][]byte),
	}

	for _, svc := range adv.Services() {
		a.Services = append(a.Services, uuids.NormalizeUUID(svc.String()))
	}
	sort.Strings(a.Services)

	for _, sd := range adv.ServiceData() {
		a.ServiceData[uuids.NormalizeUUID(sd.UUID.String())] = sd.Data
	}

	// 127 means TX power not available
	if adv.TxPowerLevel() != 127 {
		txPower := int(adv.TxPowerLevel())
		a.TxPower = &txPower
	}

	// Cameras without a local name often embed one in manufacturer data
	if a.Name == "" {
		a.Name = extractNameFromManufacturerData(a.ManufacturerData)
	}

	return a
}

// Scan runs a platform scan until ctx is cancelled or times out, invoking
// handler for every received advertisement. Context expiry is the normal way
// a scan ends and is not reported as an error.
func Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	dev, err := Platform()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(newAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

// extractNameFromManufacturerData attempts to extract a device name from
// manufacturer data by finding the longest readable ASCII run.
func extractNameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	for i := 0; i < len(data)-3; i++ {
		if !isReadableASCII(data[i]) {
			continue
		}
		var nameBytes []byte
		for j := i; j < len(data) && j < i+32; j++ {
			if !isReadableASCII(data[j]) {
				break
			}
			nameBytes = append(nameBytes, data[j])
		}

		if len(nameBytes) >= 3 {
			name := strings.TrimSpace(string(nameBytes))
			if isValidDeviceName(name) {
				return name
			}
		}
	}

	return ""
}

// isReadableASCII checks if a byte represents a readable ASCII character
func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126 && unicode.IsPrint(rune(b))
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}

	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
