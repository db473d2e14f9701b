package dfu

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a DFU control point operation. Unlike the transfer services the
// control point does not use the length-prefixed frame envelope: requests
// and notifications are raw fixed-size records.
type Opcode byte

const (
	OpStartDFU                Opcode = 0x01
	OpInitializeDFU           Opcode = 0x02
	OpReceiveFirmwareImage    Opcode = 0x03
	OpValidateFirmware        Opcode = 0x04
	OpActivateAndReset        Opcode = 0x05
	OpResetSystem             Opcode = 0x06
	OpReportReceivedImageSize Opcode = 0x07
	OpPacketReceiptNotifReq   Opcode = 0x08
	OpResponse                Opcode = 0x10
	OpPacketReceiptNotif      Opcode = 0x11
)

func (o Opcode) String() string {
	switch o {
	case OpStartDFU:
		return "start-dfu"
	case OpInitializeDFU:
		return "initialize-dfu"
	case OpReceiveFirmwareImage:
		return "receive-firmware-image"
	case OpValidateFirmware:
		return "validate-firmware"
	case OpActivateAndReset:
		return "activate-and-reset"
	case OpResetSystem:
		return "reset-system"
	case OpReportReceivedImageSize:
		return "report-received-image-size"
	case OpPacketReceiptNotifReq:
		return "packet-receipt-notif-request"
	case OpResponse:
		return "response"
	case OpPacketReceiptNotif:
		return "packet-receipt-notif"
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// Status is the third byte of a control point response.
type Status byte

const (
	StatusSuccess              Status = 0x01
	StatusInvalidState         Status = 0x02
	StatusNotSupported         Status = 0x03
	StatusDataSizeExceedsLimit Status = 0x04
	StatusCRCError             Status = 0x05
	StatusOperationFailed      Status = 0x06
)

// Message is the human-readable meaning of the status.
func (s Status) Message() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidState:
		return "invalid state"
	case StatusNotSupported:
		return "not supported"
	case StatusDataSizeExceedsLimit:
		return "data size exceeds limit"
	case StatusCRCError:
		return "CRC error"
	case StatusOperationFailed:
		return "operation failed"
	}
	return fmt.Sprintf("unknown status 0x%02x", byte(s))
}

// ImageApplication is the image type StartDFU announces. The cameras only
// accept application images over this service.
const ImageApplication byte = 0x04

// EncodeStartRequest builds the StartDFU control record.
func EncodeStartRequest(imageType byte) []byte {
	return []byte{byte(OpStartDFU), imageType}
}

// EncodeSizePacket builds the image size header sent on the packet
// characteristic before the image bytes.
func EncodeSizePacket(size uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, size)
}

// EncodePacketReceiptRequest asks the device to confirm every interval
// packets during the image transfer.
func EncodePacketReceiptRequest(interval uint16) []byte {
	return binary.LittleEndian.AppendUint16([]byte{byte(OpPacketReceiptNotifReq)}, interval)
}

// Notification is a decoded control point notification: either a response
// to a request or a packet receipt.
type Notification struct {
	Op       Opcode
	Request  Opcode // set when Op is OpResponse
	Status   Status // set when Op is OpResponse
	Received uint32 // set when Op is OpPacketReceiptNotif
}

// ParseNotification decodes one control point notification.
func ParseNotification(payload []byte) (Notification, error) {
	if len(payload) == 0 {
		return Notification{}, fmt.Errorf("empty control notification")
	}
	switch op := Opcode(payload[0]); op {
	case OpResponse:
		if len(payload) != 3 {
			return Notification{}, fmt.Errorf("control response: want 3 bytes, got %d", len(payload))
		}
		return Notification{Op: op, Request: Opcode(payload[1]), Status: Status(payload[2])}, nil
	case OpPacketReceiptNotif:
		if len(payload) != 5 {
			return Notification{}, fmt.Errorf("packet receipt: want 5 bytes, got %d", len(payload))
		}
		return Notification{Op: op, Received: binary.LittleEndian.Uint32(payload[1:5])}, nil
	default:
		return Notification{}, fmt.Errorf("unexpected control opcode 0x%02x", payload[0])
	}
}
