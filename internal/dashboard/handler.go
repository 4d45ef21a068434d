package dashboard

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/syncer"
)

// Stats is the dashboard's current view of the device.
type Stats struct {
	QueueCount   int       `json:"queue_count"`
	StudentCount int       `json:"student_count"`
	Online       bool      `json:"online"`
	DeviceID     string    `json:"device_id,omitempty"`
	LastSync     time.Time `json:"last_sync,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// CountData carries a collection size.
type CountData struct {
	Count int `json:"count"`
}

// ConnectivityData reports an online/offline transition.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// SyncCompleteData describes a successful sync pass.
type SyncCompleteData struct {
	Submitted int           `json:"submitted"`
	Deleted   int           `json:"deleted"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
	DeviceID  string        `json:"device_id,omitempty"`
}

// SyncFailedData describes a gated or failed sync pass.
type SyncFailedData struct {
	Error        string `json:"error"`
	Precondition bool   `json:"precondition"`
}

// RefreshCompleteData describes a student cache refresh.
type RefreshCompleteData struct {
	Stored   int `json:"stored"`
	Skipped  int `json:"skipped"`
	Reported int `json:"reported"`
}

// Handler converts tracker events into dashboard messages and keeps the
// Stats snapshot sent to new clients. It is safe for concurrent use.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats Stats
}

// NewHandler creates a handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{server: server, logger: logger}
	server.SetWelcome(h.statsMessage)
	return h
}

// OnQueueChanged reports the current queue size.
func (h *Handler) OnQueueChanged(count int) {
	h.mu.Lock()
	changed := h.stats.QueueCount != count
	h.stats.QueueCount = count
	h.mu.Unlock()

	if changed {
		h.send(MessageTypeQueue, CountData{Count: count})
	}
}

// OnStudentsChanged reports the cached student count.
func (h *Handler) OnStudentsChanged(count int) {
	h.mu.Lock()
	h.stats.StudentCount = count
	h.mu.Unlock()

	h.send(MessageTypeStudents, CountData{Count: count})
}

// OnConnectivity reports an online/offline transition.
func (h *Handler) OnConnectivity(online bool) {
	h.mu.Lock()
	h.stats.Online = online
	h.mu.Unlock()

	h.send(MessageTypeConnectivity, ConnectivityData{Online: online})
}

// OnSync reports the outcome of one sync pass.
func (h *Handler) OnSync(res *syncer.Result, err error) {
	if err != nil {
		var pre *syncer.PreconditionError
		data := SyncFailedData{Error: err.Error(), Precondition: errors.As(err, &pre)}

		h.mu.Lock()
		h.stats.LastError = data.Error
		h.mu.Unlock()

		h.logger.Printf("Sync failed: %v", err)
		h.send(MessageTypeSyncFailed, data)
		return
	}
	if res == nil {
		return
	}

	h.mu.Lock()
	h.stats.LastSync = time.Now()
	h.stats.LastError = ""
	if res.DeviceID != "" {
		h.stats.DeviceID = res.DeviceID
	}
	h.mu.Unlock()

	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Submitted: res.Submitted,
		Deleted:   res.Deleted,
		Remaining: res.Remaining,
		Duration:  res.Duration,
		DeviceID:  res.DeviceID,
	})
	h.OnQueueChanged(res.Remaining)
}

// OnRefresh reports a completed student cache refresh.
func (h *Handler) OnRefresh(res *refresh.Result) {
	h.logger.Printf("Students refreshed: %d stored", res.Stored)
	h.send(MessageTypeRefreshComplete, RefreshCompleteData{
		Stored:   res.Stored,
		Skipped:  res.Skipped,
		Reported: res.Reported,
	})
	h.OnStudentsChanged(res.Stored)
}

// SetDeviceID records the device id shown in the snapshot.
func (h *Handler) SetDeviceID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.DeviceID = id
}

// GetStats returns the current snapshot.
func (h *Handler) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	data, _ := json.Marshal(h.GetStats())
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
