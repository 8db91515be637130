package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/odesys/relay/internal/runtime"
)

// Server is the local control API: ingest, flush, mode switches, and status
// over plain JSON. It binds to loopback by default; this surface is for the
// device's own collectors and tooling, not the public network.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/flush", s.handleFlush)
	mux.HandleFunc("/v1/mode/realtime", s.handleModeRealtime)
	mux.HandleFunc("/v1/mode/batch", s.handleModeBatch)
	mux.HandleFunc("/v1/status", s.handleStatus)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// sourceStatus maps a per-source error to the right status code.
func sourceStatus(w http.ResponseWriter, err error) {
	if errors.Is(err, runtime.ErrUnknownSource) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type ingestReq struct {
	Source     string            `json:"source"`
	Origin     string            `json:"origin"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	ObservedAt int64             `json:"observedAtMs"`
	Extra      map[string]string `json:"extra"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ingestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.rt.Enqueue(req.Source, req.Origin, req.Title, req.Body, req.ObservedAt, req.Extra); err != nil {
		sourceStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type flushReq struct {
	Source string `json:"source"`
	Force  bool   `json:"force"`
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req flushReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		s.rt.FlushAll(req.Force)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.rt.Flush(req.Source, req.Force); err != nil {
		sourceStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type modeReq struct {
	Source     string `json:"source"`
	DurationMs int64  `json:"durationMs"`
}

func (s *Server) handleModeRealtime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req modeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d := time.Duration(req.DurationMs) * time.Millisecond
	if err := s.rt.SwitchToRealtime(req.Source, d); err != nil {
		sourceStatus(w, err)
		return
	}
	st, err := s.rt.Status(req.Source)
	if err != nil {
		sourceStatus(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleModeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req modeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.rt.SwitchToBatch(req.Source); err != nil {
		sourceStatus(w, err)
		return
	}
	st, err := s.rt.Status(req.Source)
	if err != nil {
		sourceStatus(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if source := r.URL.Query().Get("source"); source != "" {
		st, err := s.rt.Status(source)
		if err != nil {
			sourceStatus(w, err)
			return
		}
		writeJSON(w, st)
		return
	}
	writeJSON(w, map[string]any{
		"deviceId": s.rt.DeviceID(),
		"sources":  s.rt.StatusAll(),
	})
}
