package ftp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/ftp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
)

func TestChunkRequestLayout(t *testing.T) {
	frame := ftp.EncodeChunkRequest("/a", 0x1122334455667788, 0x600)

	assert.Equal(t, byte(ftp.CmdReadFileChunk), frame.Code)
	assert.Equal(t, []byte{
		0x02, 0x00, '/', 'a', // path
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, // offset
		0x00, 0x06, 0x00, 0x00, // length
	}, frame.Payload)
}

func TestListingRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	modified := created.Add(90 * time.Minute)

	orig := &ftp.DirectoryListing{
		Path:   "/media/sd1/clips",
		Parent: "/media/sd1",
		Entries: []ftp.DirectoryEntry{
			{
				Name:     "A001_03141234_C001.braw",
				Size:     2 << 30,
				Created:  created,
				Modified: modified,
				Format:   ftp.FormatBRAW,
			},
			{
				Name:        "proxies",
				Created:     created,
				Modified:    created,
				IsDirectory: true,
			},
			{
				Name:      "A001_03141234_C002.braw",
				Size:      512,
				Created:   created,
				Modified:  modified,
				Format:    ftp.FormatBRAW,
				Thumbnail: []byte{0xff, 0xd8, 0xff, 0xe0},
			},
		},
	}

	decoded, err := ftp.DecodeListing(ftp.EncodeListing(orig))
	require.NoError(t, err)

	assert.Equal(t, orig.Path, decoded.Path)
	assert.Equal(t, orig.Parent, decoded.Parent)
	require.Len(t, decoded.Entries, 3)

	assert.Equal(t, "/media/sd1/clips/A001_03141234_C001.braw", decoded.Entries[0].Path,
		"entry paths are joined with the listing path")
	assert.Equal(t, orig.Entries[0].Size, decoded.Entries[0].Size)
	assert.True(t, decoded.Entries[0].Created.Equal(created))
	assert.True(t, decoded.Entries[0].Modified.Equal(modified))
	assert.False(t, decoded.Entries[0].IsDirectory)
	assert.Nil(t, decoded.Entries[0].Thumbnail)

	assert.True(t, decoded.Entries[1].IsDirectory)
	assert.Equal(t, "/media/sd1/clips/proxies", decoded.Entries[1].Path)

	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, decoded.Entries[2].Thumbnail)
}

func TestListingWithoutParent(t *testing.T) {
	decoded, err := ftp.DecodeListing(ftp.EncodeListing(&ftp.DirectoryListing{Path: "/"}))
	require.NoError(t, err)
	assert.Empty(t, decoded.Parent)
	assert.Empty(t, decoded.Entries)
}

func TestDecodeListingTruncated(t *testing.T) {
	payload := ftp.EncodeListing(&ftp.DirectoryListing{
		Path: "/media",
		Entries: []ftp.DirectoryEntry{
			{Name: "clip.braw", Size: 100, Created: time.Unix(0, 0), Modified: time.Unix(0, 0)},
		},
	})

	_, err := ftp.DecodeListing(payload[:len(payload)-3])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated record")
}

func TestFileInfoRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	orig := &ftp.FileInfo{
		Path:     "/media/sd1/clip.braw",
		Size:     123456789,
		Created:  created,
		Modified: created.Add(time.Hour),
		Format:   ftp.FormatBRAW,
	}

	decoded, err := ftp.DecodeFileInfo(ftp.EncodeFileInfo(orig), orig.Path)
	require.NoError(t, err)
	assert.Equal(t, orig.Size, decoded.Size)
	assert.True(t, decoded.Created.Equal(orig.Created))
	assert.True(t, decoded.Modified.Equal(orig.Modified))
	assert.Equal(t, ftp.FormatBRAW, decoded.Format)
	assert.False(t, decoded.IsDirectory)
	assert.Equal(t, orig.Path, decoded.Path)
}

func TestDecodeFileInfoDirectoryFlag(t *testing.T) {
	raw := ftp.EncodeFileInfo(&ftp.FileInfo{Path: "/media", IsDirectory: true})

	decoded, err := ftp.DecodeFileInfo(raw, "/media")
	require.NoError(t, err)
	assert.True(t, decoded.IsDirectory)
}

func TestDecodeFileInfoTruncated(t *testing.T) {
	_, err := ftp.DecodeFileInfo([]byte{0x01, 0x02, 0x03}, "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated record")
}

func TestResponseMessages(t *testing.T) {
	assert.Equal(t, "no such file or directory", ftp.RespNotFound.Message())
	assert.Equal(t, "is a directory", ftp.RespIsDirectory.Message())
	assert.Equal(t, "end of file", ftp.RespEndOfFile.Message())
	assert.Equal(t, "unknown response 0x7f", ftp.ResponseCode(0x7f).Message())
}

func TestRequestFramesCarryPath(t *testing.T) {
	frame := ftp.EncodeListDirRequest("/media")
	assert.Equal(t, byte(ftp.CmdListDir), frame.Code)

	r := gatt.NewReader(frame.Payload)
	assert.Equal(t, "/media", r.String())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}
