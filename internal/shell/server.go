package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/cdlta/tracker/internal/metrics"
)

// ServerConfig configures the local shell server.
type ServerConfig struct {
	// Addr to listen on (default: 127.0.0.1:8080)
	Addr string

	// WebSocket, when set, is mounted at /ws.
	WebSocket http.HandlerFunc

	Logger *log.Logger
}

// Server is the local HTTP server in front of a Shell.
type Server struct {
	shell    *Shell
	router   *mux.Router
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger
	done     chan struct{}
}

// NewServer builds the router: /healthz, /metrics, /ws, /api and the
// catch-all asset handler.
func NewServer(sh *Shell, cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[shell] ", log.LstdFlags)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "cache": sh.CacheName()})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if cfg.WebSocket != nil {
		r.HandleFunc("/ws", cfg.WebSocket)
	}
	r.PathPrefix(APIPrefix).Handler(sh)
	r.PathPrefix("/").Handler(sh)

	return &Server{shell: sh, router: r, addr: cfg.Addr, logger: cfg.Logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Printf("Shell server listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down and waits for pending cache fills.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	s.shell.Wait()
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
