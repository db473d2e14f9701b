package gatt

import (
	"encoding/base64"
	"fmt"
)

// EncodeText encodes a binary payload into the text-safe form used wherever a
// payload crosses a JSON or CLI boundary (thumbnails, payload arguments).
func EncodeText(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodeText decodes a text-safe payload back to binary.
func DecodeText(s string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed text payload: %w", err)
	}
	return payload, nil
}
