package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odesys/relay/internal/event"
	"github.com/odesys/relay/pkg/id"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Doer is the minimal HTTP surface the transport needs; *http.Client
// satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout bounds one batch upload end to end.
const DefaultTimeout = 30 * time.Second

// maxErrBody caps how much of an error response lands in logs and errors.
const maxErrBody = 512

// Options configures an HTTP transport.
type Options struct {
	// BaseURL is the collector root, e.g. "https://collector.example.com".
	BaseURL string
	// DeviceID identifies this device in every payload.
	DeviceID string
	// Timeout per request. <=0 means DefaultTimeout.
	Timeout time.Duration
	// Headers are set verbatim on every request, e.g. an auth token.
	Headers map[string]string
}

// HTTP uploads batches to a collector endpoint:
//
//	POST {base}/v1/sources/{source}/batch
//
// Each payload carries the device ID, a sortable batch ID, and the events
// verbatim. Any non-2xx response is an error; the caller owns retries.
type HTTP struct {
	baseURL  string
	deviceID string
	headers  map[string]string
	client   Doer
	gen      *id.Generator
	logger   logpkg.Logger
}

// NewHTTP validates opts and builds a transport.
func NewHTTP(opts Options, logger logpkg.Logger) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("transport: Options.BaseURL is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &HTTP{
		baseURL:  base,
		deviceID: opts.DeviceID,
		headers:  opts.Headers,
		client:   &http.Client{Timeout: timeout},
		gen:      id.NewGenerator(),
		logger:   logger.With(logpkg.Component("transport")),
	}, nil
}

// SetClient swaps the underlying HTTP client; used by tests.
func (t *HTTP) SetClient(d Doer) { t.client = d }

// batchPayload is the upload wire format.
type batchPayload struct {
	DeviceID string        `json:"deviceId"`
	BatchID  string        `json:"batchId"`
	SentAt   int64         `json:"sentAt"`
	Events   []event.Event `json:"events"`
}

// SendBatch implements spool.Sender.
func (t *HTTP) SendBatch(ctx context.Context, source string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	batchID := t.gen.Next().String()
	payload := batchPayload{
		DeviceID: t.deviceID,
		BatchID:  batchID,
		SentAt:   time.Now().UnixMilli(),
		Events:   events,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/sources/%s/batch", t.baseURL, url.PathEscape(source))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("transport: collector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	t.logger.Debug("transport.batch_sent",
		logpkg.Str("source", source),
		logpkg.Str("batch_id", batchID),
		logpkg.Int("count", len(events)))
	return nil
}
