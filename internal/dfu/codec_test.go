package dfu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/dfu"
)

func TestControlRequestLayouts(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x04}, dfu.EncodeStartRequest(dfu.ImageApplication))
	assert.Equal(t, []byte{0x34, 0x12, 0x00, 0x00}, dfu.EncodeSizePacket(0x1234))
	assert.Equal(t, []byte{0x08, 0x0a, 0x00}, dfu.EncodePacketReceiptRequest(10))
	assert.Equal(t, []byte{0x08, 0x00, 0x01}, dfu.EncodePacketReceiptRequest(256))
}

func TestParseNotification(t *testing.T) {
	n, err := dfu.ParseNotification([]byte{0x10, 0x01, 0x01})
	require.NoError(t, err)
	assert.Equal(t, dfu.OpResponse, n.Op)
	assert.Equal(t, dfu.OpStartDFU, n.Request)
	assert.Equal(t, dfu.StatusSuccess, n.Status)

	n, err = dfu.ParseNotification([]byte{0x11, 0x40, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, dfu.OpPacketReceiptNotif, n.Op)
	assert.EqualValues(t, 0x40, n.Received)
}

func TestParseNotificationRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"short response", []byte{0x10, 0x01}},
		{"long response", []byte{0x10, 0x01, 0x01, 0x00}},
		{"short receipt", []byte{0x11, 0x40}},
		{"unknown opcode", []byte{0x7f, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dfu.ParseNotification(tt.payload)
			require.Error(t, err)
		})
	}
}

func TestStatusMessages(t *testing.T) {
	tests := []struct {
		status dfu.Status
		want   string
	}{
		{dfu.StatusSuccess, "success"},
		{dfu.StatusInvalidState, "invalid state"},
		{dfu.StatusNotSupported, "not supported"},
		{dfu.StatusDataSizeExceedsLimit, "data size exceeds limit"},
		{dfu.StatusCRCError, "CRC error"},
		{dfu.StatusOperationFailed, "operation failed"},
		{dfu.Status(0xee), "unknown status 0xee"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Message())
	}
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "start-dfu", dfu.OpStartDFU.String())
	assert.Equal(t, "activate-and-reset", dfu.OpActivateAndReset.String())
	assert.Equal(t, "packet-receipt-notif", dfu.OpPacketReceiptNotif.String())
	assert.Equal(t, "opcode(0x99)", dfu.Opcode(0x99).String())
}
