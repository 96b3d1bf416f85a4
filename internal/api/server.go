// Package api exposes engine control and state over HTTP, with a
// WebSocket stream of per-tick vehicle state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/obocar/engine/internal/dispatcher"
)

// Dependencies holds everything the API server needs.
type Dependencies struct {
	Dispatcher *dispatcher.Dispatcher
	Hub        *Hub
	Logger     *slog.Logger

	// State returns the current engine state document.
	State func() any
	// Status returns the monitor status document.
	Status func() any
	// ExportPath writes the driven path as GeoJSON.
	ExportPath func(w io.Writer) error
}

// Server serves the control API.
type Server struct {
	deps     Dependencies
	upgrader ws.Upgrader
	httpSrv  *http.Server
}

// NewServer creates the API server listening on the given address.
func NewServer(listen string, deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local tooling connects from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)
	mux.HandleFunc("/api/v1/control/", s.handleControl)
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/path.geojson", s.handlePathExport)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.deps.Logger.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("API server failed", "error", err)
		}
	}()
}

// Shutdown stops the server and disconnects WebSocket subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// handleControl dispatches POST /api/v1/control/{command} through the
// event dispatcher. The request body, if any, becomes the first argument.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := strings.TrimPrefix(r.URL.Path, "/api/v1/control/")
	if cmd == "" || strings.Contains(cmd, "/") {
		http.Error(w, "unknown control command", http.StatusNotFound)
		return
	}
	if !s.deps.Dispatcher.HasHandler(cmd) {
		http.Error(w, "unknown control command", http.StatusNotFound)
		return
	}

	var args []string
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		args = []string{string(body)}
	}

	result, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
		Command:   cmd,
		Args:      args,
		Timestamp: time.Now(),
	})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handlePathExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	if err := s.deps.ExportPath(w); err != nil {
		s.deps.Logger.Warn("Path export failed", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.deps.Logger)
	s.deps.Hub.register(c)
	s.deps.Logger.Info("WebSocket subscriber connected", "remote", r.RemoteAddr)

	go c.writeLoop()

	// Read loop exists only to detect disconnects; inbound messages are ignored.
	go func() {
		defer func() {
			s.deps.Hub.unregister(c)
			c.close()
			s.deps.Logger.Info("WebSocket subscriber disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
