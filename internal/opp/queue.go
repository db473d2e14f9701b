package opp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Priority orders queued uploads. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// QueueStatus tracks a queue entry through its life.
type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueUploading QueueStatus = "uploading"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// UploadRequest describes one upload for the queue.
type UploadRequest struct {
	DeviceID  string
	RemoteDir string
	Name      string
	Data      []byte
	Priority  Priority
	Options   *UploadOptions
}

// QueueItem is a point-in-time view of a queue entry.
type QueueItem struct {
	ID         string      `json:"id"`
	DeviceID   string      `json:"deviceId"`
	RemoteDir  string      `json:"remoteDir"`
	Name       string      `json:"name"`
	Size       uint64      `json:"size"`
	Priority   Priority    `json:"priority"`
	Status     QueueStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// queueItem pairs the request with its public view. Both sides are guarded
// by the client mutex.
type queueItem struct {
	req  UploadRequest
	view QueueItem
}

// AddToQueue enqueues an upload and returns its queue id. Nothing runs until
// ProcessQueue is called.
func (c *Client) AddToQueue(req UploadRequest) (string, error) {
	if req.DeviceID == "" {
		return "", errors.New("queue upload: missing device id")
	}
	if req.Name == "" {
		return "", errors.New("queue upload: missing file name")
	}
	if req.RemoteDir == "" {
		req.RemoteDir = "/"
	}
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("upload-%d", c.nextID)
	now := time.Now()
	c.queue.Set(id, &queueItem{req: req, view: QueueItem{
		ID:         id,
		DeviceID:   req.DeviceID,
		RemoteDir:  req.RemoteDir,
		Name:       req.Name,
		Size:       uint64(len(req.Data)),
		Priority:   req.Priority,
		Status:     QueueWaiting,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}})
	c.mu.Unlock()
	c.wake()
	return id, nil
}

// ProcessQueue drains the queue, one upload at a time, highest priority
// first with insertion order breaking ties. It returns once every entry has
// reached a terminal status, or with ctx's error on cancellation. While the
// queue is paused the in-flight upload finishes but no new one starts.
func (c *Client) ProcessQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return errors.New("queue is already being processed")
	}
	c.processing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, waiting := c.nextWaiting()
		if item == nil {
			if !waiting {
				return nil
			}
			// paused with entries still waiting
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.kick:
			}
			continue
		}
		c.runQueued(ctx, item)
	}
}

// PauseQueue stops the queue from starting new uploads. An upload already in
// flight is not interrupted.
func (c *Client) PauseQueue() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// ResumeQueue lets a paused queue advance again.
func (c *Client) ResumeQueue() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.wake()
}

// QueueSnapshot lists every queue entry in insertion order, terminal entries
// included.
func (c *Client) QueueSnapshot() []QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]QueueItem, 0, c.queue.Len())
	for pair := c.queue.Oldest(); pair != nil; pair = pair.Next() {
		items = append(items, pair.Value.view)
	}
	return items
}

// nextWaiting picks the entry to run next. It returns nil while the queue is
// paused, with waiting reporting whether runnable entries remain.
func (c *Client) nextWaiting() (*queueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *queueItem
	waiting := false
	for pair := c.queue.Oldest(); pair != nil; pair = pair.Next() {
		item := pair.Value
		if item.view.Status != QueueWaiting {
			continue
		}
		waiting = true
		if best == nil || item.view.Priority > best.view.Priority {
			best = item
		}
	}
	if c.paused {
		return nil, waiting
	}
	return best, waiting
}

func (c *Client) runQueued(ctx context.Context, item *queueItem) {
	c.setQueueStatus(item, QueueUploading, "")
	req := item.req
	err := c.UploadFile(ctx, req.DeviceID, req.RemoteDir, req.Name, req.Data, req.Options, nil)
	if err != nil {
		c.setQueueStatus(item, QueueFailed, err.Error())
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device": req.DeviceID,
			"file":   req.Name,
		}).Warn("Queued upload failed")
		return
	}
	c.setQueueStatus(item, QueueCompleted, "")
}

func (c *Client) setQueueStatus(item *queueItem, status QueueStatus, errMsg string) {
	c.mu.Lock()
	item.view.Status = status
	item.view.Error = errMsg
	item.view.UpdatedAt = time.Now()
	c.mu.Unlock()
}

// wake nudges a ProcessQueue loop that is parked on a paused queue.
func (c *Client) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
