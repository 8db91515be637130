package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cfgpkg "github.com/odesys/relay/internal/config"
	"github.com/odesys/relay/internal/event"
	"github.com/odesys/relay/internal/runtime"
	logpkg "github.com/odesys/relay/pkg/log"
)

type fakeSender struct {
	mu      sync.Mutex
	batches int
}

func (f *fakeSender) SendBatch(ctx context.Context, source string, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	logger := logpkg.NewLogger(
		logpkg.WithLevel(logpkg.ErrorLevel),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewNullOutput()),
	)
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger, Sender: &fakeSender{}})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return New(rt)
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/v1/healthz", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestIngestHandler(t *testing.T) {
	s := newTestServer(t)
	body := `{"source":"sms","origin":"+15550100","body":"hello","observedAtMs":1700000000000}`
	w := do(s, http.MethodPost, "/v1/ingest", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}
	w = do(s, http.MethodGet, "/v1/status?source=sms", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var st struct {
		QueueSize int `json:"queueSize"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.QueueSize != 1 {
		t.Fatalf("queueSize: %d", st.QueueSize)
	}
}

func TestIngestUnknownSource(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/ingest", `{"source":"telegraph","body":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestIngestBadBody(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/ingest", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/v1/ingest", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestFlushHandler(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/flush", `{"source":"sms","force":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestFlushAllHandler(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/flush", `{"force":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestFlushUnknownSource(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/flush", `{"source":"telegraph"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestModeHandlers(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/mode/realtime", `{"source":"sms","durationMs":60000}`)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var st struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Mode != "REALTIME" {
		t.Fatalf("mode: %s", st.Mode)
	}
	w = do(s, http.MethodPost, "/v1/mode/batch", `{"source":"sms"}`)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Mode != "BATCH" {
		t.Fatalf("mode: %s", st.Mode)
	}
}

func TestModeUnknownSource(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodPost, "/v1/mode/realtime", `{"source":"telegraph","durationMs":1000}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestStatusAllHandler(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/v1/status", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		DeviceID string `json:"deviceId"`
		Sources  []struct {
			Source string `json:"source"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeviceID == "" {
		t.Fatalf("deviceId empty")
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources: %d", len(resp.Sources))
	}
}

func TestStatusUnknownSource(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/v1/status?source=telegraph", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}
