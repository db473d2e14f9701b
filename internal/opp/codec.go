package opp

import (
	"fmt"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// CommandCode selects the object push operation a request frame carries.
type CommandCode byte

const (
	CmdSetPath        CommandCode = 0x01
	CmdCheckSpace     CommandCode = 0x02
	CmdStartTransfer  CommandCode = 0x03
	CmdSendChunk      CommandCode = 0x04
	CmdEndTransfer    CommandCode = 0x05
	CmdCancelTransfer CommandCode = 0x06
)

func (c CommandCode) String() string {
	switch c {
	case CmdSetPath:
		return "set-path"
	case CmdCheckSpace:
		return "check-space"
	case CmdStartTransfer:
		return "start-transfer"
	case CmdSendChunk:
		return "send-chunk"
	case CmdEndTransfer:
		return "end-transfer"
	case CmdCancelTransfer:
		return "cancel-transfer"
	}
	return fmt.Sprintf("command(0x%02x)", byte(c))
}

// ResponseCode is the first byte of every response frame.
type ResponseCode byte

const (
	RespOK                ResponseCode = 0x00
	RespContinue          ResponseCode = 0x01
	RespError             ResponseCode = 0x02
	RespFileExists        ResponseCode = 0x03
	RespInsufficientSpace ResponseCode = 0x04
	RespInvalidPath       ResponseCode = 0x05
	RespAborted           ResponseCode = 0x06
	RespChecksumMismatch  ResponseCode = 0x07
)

// Message is the human-readable meaning of the response code.
func (r ResponseCode) Message() string {
	switch r {
	case RespOK:
		return "ok"
	case RespContinue:
		return "continue"
	case RespError:
		return "device error"
	case RespFileExists:
		return "file already exists"
	case RespInsufficientSpace:
		return "insufficient space"
	case RespInvalidPath:
		return "invalid path"
	case RespAborted:
		return "transfer aborted"
	case RespChecksumMismatch:
		return "checksum mismatch"
	}
	return fmt.Sprintf("unknown response 0x%02x", byte(r))
}

// EncodeSetPathRequest selects the remote directory for the transfer.
func EncodeSetPathRequest(dir string) gatt.Frame {
	return gatt.Frame{Code: byte(CmdSetPath), Payload: gatt.AppendString(nil, dir)}
}

// EncodeCheckSpaceRequest asks whether size bytes fit on the medium.
func EncodeCheckSpaceRequest(size uint64) gatt.Frame {
	return gatt.Frame{Code: byte(CmdCheckSpace), Payload: gatt.AppendU64(nil, size)}
}

// EncodeStartTransferRequest announces the file about to be sent.
func EncodeStartTransferRequest(name string, size uint64, overwrite bool) gatt.Frame {
	payload := gatt.AppendString(nil, name)
	payload = gatt.AppendU64(payload, size)
	if overwrite {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	return gatt.Frame{Code: byte(CmdStartTransfer), Payload: payload}
}

// EncodeChunk carries data starting at offset.
func EncodeChunk(offset uint64, data []byte) gatt.Frame {
	payload := gatt.AppendU64(nil, offset)
	return gatt.Frame{Code: byte(CmdSendChunk), Payload: append(payload, data...)}
}

// EncodeEndTransferRequest closes the transfer with the CRC32 (IEEE) of the
// complete payload.
func EncodeEndTransferRequest(crc uint32) gatt.Frame {
	return gatt.Frame{Code: byte(CmdEndTransfer), Payload: gatt.AppendU32(nil, crc)}
}

// EncodeCancelRequest drops the device's active inbound transfer.
func EncodeCancelRequest() gatt.Frame {
	return gatt.Frame{Code: byte(CmdCancelTransfer)}
}
