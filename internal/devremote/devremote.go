// Package devremote is an in-process remote authority for development and
// tests. It serves the same two routes as the deployed remote and honours the
// txn_id idempotency contract: a transaction already applied is acknowledged
// again without being applied twice.
package devremote

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"

	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/schema"
)

const maxBodyBytes = 32 << 20

// Server is the development remote. It is safe for concurrent use.
type Server struct {
	router *mux.Router
	logger *log.Logger

	mu         sync.Mutex
	applied    map[string]json.RawMessage
	order      []string
	duplicates int
	batches    int
	students   []*schema.Student
	failNext   []string
}

// New returns an empty Server. A nil logger writes to stderr.
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[devremote] ", log.LstdFlags)
	}
	s := &Server{
		logger:  logger,
		applied: make(map[string]json.RawMessage),
	}

	r := mux.NewRouter()
	r.Methods(http.MethodGet).Queries("route", remote.RouteStudents).HandlerFunc(s.handleStudents)
	r.Methods(http.MethodPost).Queries("route", remote.RouteTransactions).HandlerFunc(s.handleTransactions)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]interface{}{"ok": false, "error": "unknown route"})
	})
	r.MethodNotAllowedHandler = r.NotFoundHandler
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetStudents replaces the roster served by the students route.
func (s *Server) SetStudents(students []*schema.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = append([]*schema.Student(nil), students...)
}

// FailNext makes the next transactions request answer ok=false with msg.
// Calls queue up: each failure is used once.
func (s *Server) FailNext(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, msg)
}

// Applied returns every applied transaction in the order first received.
func (s *Server) Applied() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.order))
	for i, id := range s.order {
		out[i] = s.applied[id]
	}
	return out
}

// AppliedIDs returns the applied txn_ids in the order first received.
func (s *Server) AppliedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Duplicates returns how many received transactions were already applied.
func (s *Server) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Batches returns how many transaction requests were accepted.
func (s *Server) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	students := append([]*schema.Student{}, s.students...)
	s.mu.Unlock()

	respond(w, remote.StudentsResponse{OK: true, Students: students, Count: len(students)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	// The body is JSON sent as text/plain; the content type is ignored.
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respond(w, remote.Ack{OK: false, Error: "failed to read body"})
		return
	}

	var batch remote.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		respond(w, remote.Ack{OK: false, Error: "invalid JSON body"})
		return
	}

	ids := make([]string, len(batch.Transactions))
	for i, raw := range batch.Transactions {
		var k struct {
			ID string `json:"txn_id"`
		}
		if err := json.Unmarshal(raw, &k); err != nil || k.ID == "" {
			respond(w, remote.Ack{OK: false, Error: "transaction missing txn_id"})
			return
		}
		ids[i] = k.ID
	}

	s.mu.Lock()
	if len(s.failNext) > 0 {
		msg := s.failNext[0]
		s.failNext = s.failNext[1:]
		s.mu.Unlock()
		respond(w, remote.Ack{OK: false, Error: msg})
		return
	}

	fresh := 0
	for i, id := range ids {
		if _, seen := s.applied[id]; seen {
			s.duplicates++
			continue
		}
		s.applied[id] = append(json.RawMessage(nil), batch.Transactions[i]...)
		s.order = append(s.order, id)
		fresh++
	}
	s.batches++
	s.mu.Unlock()

	s.logger.Printf("Accepted batch of %d (%d new)", len(ids), fresh)
	respond(w, remote.Ack{OK: true})
}

func respond(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
