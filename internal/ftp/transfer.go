package ftp

import (
	"context"
	"sync"
	"time"
)

// TransferStatus is the lifecycle state of a download.
type TransferStatus string

const (
	TransferPending      TransferStatus = "pending"
	TransferTransferring TransferStatus = "transferring"
	TransferCompleted    TransferStatus = "completed"
	TransferFailed       TransferStatus = "failed"
)

// TransferItem is the observable bookkeeping of one download.
type TransferItem struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"deviceId"`
	Path        string         `json:"path"`
	Offset      uint64         `json:"offset"`
	TotalBytes  uint64         `json:"totalBytes"`
	Transferred uint64         `json:"transferred"`
	Status      TransferStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Progress is reported to the caller after every received chunk.
type Progress struct {
	TransferredBytes uint64
	TotalBytes       uint64
	Percentage       float64
	Speed            float64 // bytes per second over the whole transfer
}

// ProgressFunc receives transfer progress. Called on the transfer's
// goroutine; keep it fast.
type ProgressFunc func(Progress)

// transferKey identifies the one allowed in-flight transfer per device and
// remote path.
type transferKey struct {
	deviceID string
	path     string
}

// transfer is the mutable in-flight state behind a TransferItem.
type transfer struct {
	mu     sync.Mutex
	item   TransferItem
	cancel context.CancelFunc
}

func (t *transfer) snapshot() TransferItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.item
}

func (t *transfer) update(fn func(item *TransferItem)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.item)
	t.item.UpdatedAt = time.Now()
}
