package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// controlStub records requests to the agent's control API and answers
// with canned responses.
type controlStub struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
	status int
	reply  string
}

func (c *controlStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.paths = append(c.paths, r.URL.RequestURI())
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.bodies = append(c.bodies, body)
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
		if c.reply != "" {
			_, _ = w.Write([]byte(c.reply))
		}
	})
}

func (c *controlStub) lastBody(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		t.Fatal("no requests recorded")
	}
	return c.bodies[len(c.bodies)-1]
}

func startStub(t *testing.T, stub *controlStub) BaseURLFunc {
	t.Helper()
	ts := httptest.NewServer(stub.handler())
	t.Cleanup(ts.Close)
	return func() string { return ts.URL }
}

func TestIngestPostsEvent(t *testing.T) {
	stub := &controlStub{status: http.StatusAccepted}
	base := startStub(t, stub)

	cmd := NewIngestCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{
		"--source", "sms",
		"--origin", "+15550100",
		"--body", "hello",
		"--at", "1700000000000",
		"--extra", "channel=primary",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "status:") {
		t.Fatalf("expected status in output, got: %s", buf.String())
	}
	body := stub.lastBody(t)
	if body["source"] != "sms" || body["body"] != "hello" {
		t.Fatalf("body: %v", body)
	}
	if body["observedAtMs"] != float64(1700000000000) {
		t.Fatalf("observedAtMs: %v", body["observedAtMs"])
	}
	extra, _ := body["extra"].(map[string]any)
	if extra["channel"] != "primary" {
		t.Fatalf("extra: %v", body["extra"])
	}
}

func TestIngestRejectsBadTimestamp(t *testing.T) {
	stub := &controlStub{status: http.StatusAccepted}
	base := startStub(t, stub)

	cmd := NewIngestCommand(base)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--source", "sms", "--body", "x", "--at", "yesterday"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for bad --at")
	}
}

func TestIngestSurfacesAgentError(t *testing.T) {
	stub := &controlStub{status: http.StatusNotFound, reply: `{"error":"unknown source: telegraph"}`}
	base := startStub(t, stub)

	cmd := NewIngestCommand(base)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--source", "telegraph", "--body", "x"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("expected agent error, got %v", err)
	}
}

func TestFlushPostsForce(t *testing.T) {
	stub := &controlStub{status: http.StatusAccepted}
	base := startStub(t, stub)

	cmd := NewFlushCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--source", "sms", "--force"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	body := stub.lastBody(t)
	if body["source"] != "sms" || body["force"] != true {
		t.Fatalf("body: %v", body)
	}
}

func TestModeRealtimeSendsWindow(t *testing.T) {
	stub := &controlStub{reply: `{"source":"sms","mode":"REALTIME"}`}
	base := startStub(t, stub)

	cmd := NewModeCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"realtime", "--source", "sms", "--for", "90s"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	body := stub.lastBody(t)
	if body["durationMs"] != float64(90000) {
		t.Fatalf("durationMs: %v", body["durationMs"])
	}
	if !strings.Contains(buf.String(), "REALTIME") {
		t.Fatalf("expected mode in output, got: %s", buf.String())
	}
}

func TestModeBatchPostsSource(t *testing.T) {
	stub := &controlStub{reply: `{"source":"sms","mode":"BATCH"}`}
	base := startStub(t, stub)

	cmd := NewModeCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"batch", "--source", "sms"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stub.lastBody(t)["source"] != "sms" {
		t.Fatalf("body: %v", stub.lastBody(t))
	}
}

func TestStatusQueriesSource(t *testing.T) {
	stub := &controlStub{reply: `{"source":"sms","mode":"BATCH","queueSize":3}`}
	base := startStub(t, stub)

	cmd := NewStatusCommand(base)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--source", "sms"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	stub.mu.Lock()
	path := stub.paths[len(stub.paths)-1]
	stub.mu.Unlock()
	if path != "/v1/status?source=sms" {
		t.Fatalf("path: %s", path)
	}
	if !strings.Contains(buf.String(), "queueSize") {
		t.Fatalf("expected status JSON, got: %s", buf.String())
	}
}

func TestParseKeyValuesRejectsBare(t *testing.T) {
	if _, err := parseKeyValues("extra", []string{"channel"}); err == nil {
		t.Fatal("expected error for bare key")
	}
	m, err := parseKeyValues("extra", []string{"a=1", "b=x=y"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m["a"] != "1" || m["b"] != "x=y" {
		t.Fatalf("map: %v", m)
	}
}
