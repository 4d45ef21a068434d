package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/syncer"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: logging.Discard()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: logging.Discard()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Server address not resolved: %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeCarriesStats(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, logging.Discard())
	h.OnQueueChanged(4)
	h.OnStudentsChanged(12)
	h.SetDeviceID("dev_abcdef01")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")

	// Updates sent before the client connected may still be in flight.
	var msg Message
	for i := 0; i < 3; i++ {
		if msg = readMessage(t, ctx, conn); msg.Type == MessageTypeStats {
			break
		}
	}
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected welcome type %s, got %s", MessageTypeStats, msg.Type)
	}
	var stats Stats
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.QueueCount != 4 || stats.StudentCount != 12 || stats.DeviceID != "dev_abcdef01" {
		t.Errorf("Unexpected stats %+v", stats)
	}
	waitClients(t, server, 1)
}

func TestSyncBroadcasts(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")
	readMessage(t, ctx, conn) // welcome

	h.OnSync(&syncer.Result{Submitted: 3, Deleted: 3, Remaining: 1}, nil)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var data SyncCompleteData
	_ = json.Unmarshal(msg.Data, &data)
	if data.Deleted != 3 || data.Remaining != 1 {
		t.Errorf("Unexpected sync data %+v", data)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeQueue {
		t.Fatalf("Expected queue update after sync, got %s", msg.Type)
	}

	pre := &syncer.PreconditionError{Err: syncer.ErrOffline, Message: "Offline."}
	h.OnSync(nil, pre)
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncFailed {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncFailed, msg.Type)
	}
	var failed SyncFailedData
	_ = json.Unmarshal(msg.Data, &failed)
	if !failed.Precondition || failed.Error != "Offline." {
		t.Errorf("Unexpected failure data %+v", failed)
	}

	h.OnSync(nil, errors.New("sync failed: boom"))
	msg = readMessage(t, ctx, conn)
	_ = json.Unmarshal(msg.Data, &failed)
	if failed.Precondition {
		t.Error("transport failure reported as precondition")
	}
	if h.GetStats().LastError != "sync failed: boom" {
		t.Errorf("LastError = %q", h.GetStats().LastError)
	}
}

func TestRefreshAndConnectivity(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, "ws://"+server.GetAddr()+"/ws")
	readMessage(t, ctx, conn)

	h.OnConnectivity(true)
	h.OnRefresh(&refresh.Result{Stored: 7, Skipped: 1, Reported: 8})

	want := []MessageType{MessageTypeConnectivity, MessageTypeRefreshComplete, MessageTypeStudents}
	for _, typ := range want {
		if msg := readMessage(t, ctx, conn); msg.Type != typ {
			t.Fatalf("Expected %s, got %s", typ, msg.Type)
		}
	}

	stats := h.GetStats()
	if !stats.Online || stats.StudentCount != 7 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestMountOnRouter(t *testing.T) {
	server := NewServer(&Config{Logger: logging.Discard()})
	t.Cleanup(func() { _ = server.Stop() })

	r := mux.NewRouter()
	r.HandleFunc("/ws", server.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome, got %s", msg.Type)
	}

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusSwitchingProtocols {
		t.Error("plain GET should not upgrade")
	}
}
