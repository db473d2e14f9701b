package ftp

import (
	"fmt"
	"path"
	"time"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

// CommandCode selects the file transfer operation a request frame carries.
type CommandCode byte

const (
	CmdListDir       CommandCode = 0x01
	CmdFileInfo      CommandCode = 0x02
	CmdReadFileChunk CommandCode = 0x03
	CmdAbortTransfer CommandCode = 0x04
)

func (c CommandCode) String() string {
	switch c {
	case CmdListDir:
		return "list-dir"
	case CmdFileInfo:
		return "file-info"
	case CmdReadFileChunk:
		return "read-file-chunk"
	case CmdAbortTransfer:
		return "abort-transfer"
	}
	return fmt.Sprintf("command(0x%02x)", byte(c))
}

// ResponseCode is the first byte of every response frame.
type ResponseCode byte

const (
	RespOK           ResponseCode = 0x00
	RespContinue     ResponseCode = 0x01
	RespError        ResponseCode = 0x02
	RespNotFound     ResponseCode = 0x03
	RespAccessDenied ResponseCode = 0x04
	RespIsDirectory  ResponseCode = 0x05
	RespBusy         ResponseCode = 0x06
	RespEndOfFile    ResponseCode = 0x07
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
	case RespNotFound:
		return "no such file or directory"
	case RespAccessDenied:
		return "access denied"
	case RespIsDirectory:
		return "is a directory"
	case RespBusy:
		return "device busy"
	case RespEndOfFile:
		return "end of file"
	}
	return fmt.Sprintf("unknown response 0x%02x", byte(r))
}

// Entry flag bits.
const (
	flagDirectory    = 0x01
	flagHasThumbnail = 0x02
)

// FileFormat is the media format byte of listing and file-info records.
type FileFormat byte

const (
	FormatUnknown FileFormat = iota
	FormatBRAW
	FormatProRes
	FormatDNG
	FormatJPEG
	FormatWAV
	FormatLUT
)

func (f FileFormat) String() string {
	switch f {
	case FormatUnknown:
		return "unknown"
	case FormatBRAW:
		return "BRAW"
	case FormatProRes:
		return "ProRes"
	case FormatDNG:
		return "DNG"
	case FormatJPEG:
		return "JPEG"
	case FormatWAV:
		return "WAV"
	case FormatLUT:
		return "LUT"
	}
	return fmt.Sprintf("format(0x%02x)", byte(f))
}

// DirectoryEntry is one row of a directory listing.
type DirectoryEntry struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Size        uint64     `json:"size"`
	Created     time.Time  `json:"created"`
	Modified    time.Time  `json:"modified"`
	Format      FileFormat `json:"format"`
	IsDirectory bool       `json:"isDirectory"`
	Thumbnail   []byte     `json:"-"`
}

// DirectoryListing is a decoded LIST_DIR response.
type DirectoryListing struct {
	Path    string           `json:"path"`
	Parent  string           `json:"parent,omitempty"`
	Entries []DirectoryEntry `json:"entries"`
}

// FileInfo is a decoded FILE_INFO response.
type FileInfo struct {
	Path        string     `json:"path"`
	Size        uint64     `json:"size"`
	Created     time.Time  `json:"created"`
	Modified    time.Time  `json:"modified"`
	Format      FileFormat `json:"format"`
	IsDirectory bool       `json:"isDirectory"`
}

// EncodeListDirRequest builds a LIST_DIR request frame.
func EncodeListDirRequest(dir string) gatt.Frame {
	return gatt.Frame{Code: byte(CmdListDir), Payload: gatt.AppendString(nil, dir)}
}

// EncodeFileInfoRequest builds a FILE_INFO request frame.
func EncodeFileInfoRequest(filePath string) gatt.Frame {
	return gatt.Frame{Code: byte(CmdFileInfo), Payload: gatt.AppendString(nil, filePath)}
}

// EncodeChunkRequest builds a READ_FILE_CHUNK request frame asking for up to
// length bytes starting at offset.
func EncodeChunkRequest(filePath string, offset uint64, length uint32) gatt.Frame {
	payload := gatt.AppendString(nil, filePath)
	payload = gatt.AppendU64(payload, offset)
	payload = gatt.AppendU32(payload, length)
	return gatt.Frame{Code: byte(CmdReadFileChunk), Payload: payload}
}

// EncodeAbortRequest builds an ABORT_TRANSFER request frame naming the
// transfer's path.
func EncodeAbortRequest(filePath string) gatt.Frame {
	return gatt.Frame{Code: byte(CmdAbortTransfer), Payload: gatt.AppendString(nil, filePath)}
}

// DecodeListing parses a LIST_DIR OK payload.
func DecodeListing(payload []byte) (*DirectoryListing, error) {
	r := gatt.NewReader(payload)

	listing := &DirectoryListing{Path: r.String()}
	if r.U8() != 0 {
		listing.Parent = r.String()
	}

	count := int(r.U16())
	for i := 0; i < count && r.Err() == nil; i++ {
		entry := DirectoryEntry{
			Name:     r.String(),
			Size:     r.U64(),
			Created:  time.Unix(int64(r.U64()), 0).UTC(),
			Modified: time.Unix(int64(r.U64()), 0).UTC(),
			Format:   FileFormat(r.U8()),
		}
		flags := r.U8()
		entry.IsDirectory = flags&flagDirectory != 0
		if flags&flagHasThumbnail != 0 {
			entry.Thumbnail = r.LenBytes()
		}
		entry.Path = path.Join(listing.Path, entry.Name)
		listing.Entries = append(listing.Entries, entry)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("directory listing: %w", err)
	}
	return listing, nil
}

// EncodeListing serializes a listing back to wire form.
func EncodeListing(l *DirectoryListing) []byte {
	payload := gatt.AppendString(nil, l.Path)
	if l.Parent != "" {
		payload = append(payload, 1)
		payload = gatt.AppendString(payload, l.Parent)
	} else {
		payload = append(payload, 0)
	}
	payload = gatt.AppendU16(payload, uint16(len(l.Entries)))
	for _, entry := range l.Entries {
		payload = gatt.AppendString(payload, entry.Name)
		payload = gatt.AppendU64(payload, entry.Size)
		payload = gatt.AppendU64(payload, uint64(entry.Created.Unix()))
		payload = gatt.AppendU64(payload, uint64(entry.Modified.Unix()))
		payload = append(payload, byte(entry.Format))

		var flags byte
		if entry.IsDirectory {
			flags |= flagDirectory
		}
		if len(entry.Thumbnail) > 0 {
			flags |= flagHasThumbnail
		}
		payload = append(payload, flags)
		if len(entry.Thumbnail) > 0 {
			payload = gatt.AppendBytes(payload, entry.Thumbnail)
		}
	}
	return payload
}

// DecodeFileInfo parses a FILE_INFO OK payload. The request path is carried
// over since the record itself does not repeat it.
func DecodeFileInfo(payload []byte, filePath string) (*FileInfo, error) {
	r := gatt.NewReader(payload)

	info := &FileInfo{
		Path:     filePath,
		Size:     r.U64(),
		Created:  time.Unix(int64(r.U64()), 0).UTC(),
		Modified: time.Unix(int64(r.U64()), 0).UTC(),
		Format:   FileFormat(r.U8()),
	}
	info.IsDirectory = r.U8()&flagDirectory != 0

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("file info: %w", err)
	}
	return info, nil
}

// EncodeFileInfo serializes a file-info record back to wire form.
func EncodeFileInfo(info *FileInfo) []byte {
	payload := gatt.AppendU64(nil, info.Size)
	payload = gatt.AppendU64(payload, uint64(info.Created.Unix()))
	payload = gatt.AppendU64(payload, uint64(info.Modified.Unix()))
	payload = append(payload, byte(info.Format))

	var flags byte
	if info.IsDirectory {
		flags |= flagDirectory
	}
	return append(payload, flags)
}
