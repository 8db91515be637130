package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base control API URL (e.g., from env or flag).
type BaseURLFunc func() string

// postJSON sends a JSON body and returns the response body on 2xx.
// Non-2xx responses become errors carrying the agent's message.
func postJSON(url string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, httpError(resp.Status, data)
	}
	return data, nil
}

// getJSON fetches a URL and returns the response body on 2xx.
func getJSON(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, httpError(resp.Status, data)
	}
	return data, nil
}

func httpError(status string, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("http error: %s: %s", status, e.Error)
	}
	return fmt.Errorf("http error: %s", status)
}

// parseAtMs accepts a unix epoch in milliseconds or an RFC3339 timestamp.
func parseAtMs(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid --at; expected ms or RFC3339")
}

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(flag string, raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := map[string]string{}
	for _, kv := range raw {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --%s, expected key=value: %s", flag, kv)
		}
		out[strings.TrimSpace(parts[0])] = parts[1]
	}
	return out, nil
}

// printJSON pretty-prints a JSON document to the command's stdout.
func printJSON(cmd *cobra.Command, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
