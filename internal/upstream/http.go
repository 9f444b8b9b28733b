package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPStream is the HTTP-backed Transport. Connect performs a health probe;
// ListTools/Call are plain JSON request/response over POST. If the backend
// advertises Server-Sent Events support (an initial health probe response
// with Content-Type: text/event-stream), responses are read as an SSE
// stream and the transport uses the final "result" event; otherwise it
// downgrades silently to a single buffered JSON body, so a backend that
// never implemented SSE still works.
type HTTPStream struct {
	baseURL string
	headers map[string]string
	client  *http.Client

	mu  sync.Mutex
	sse bool
}

// NewHTTPStream constructs an HTTPStream transport against baseURL with
// the given static headers (e.g. backend-specific auth).
func NewHTTPStream(baseURL string, headers map[string]string) *HTTPStream {
	return &HTTPStream{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPStream) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("upstream: build health probe: %w", err)
	}
	h.applyHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: health probe %s: %w", h.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream: health probe %s: status %d", h.baseURL, resp.StatusCode)
	}

	h.mu.Lock()
	h.sse = strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	h.mu.Unlock()
	return nil
}

func (h *HTTPStream) applyHeaders(req *http.Request) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
}

func (h *HTTPStream) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := h.post(ctx, "/tools/list", nil)
	if err != nil {
		return nil, err
	}
	var tools []ToolDescriptor
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("upstream: %s: decode listTools result: %w", h.baseURL, err)
	}
	return tools, nil
}

func (h *HTTPStream) Call(ctx context.Context, toolName string, params map[string]any) (json.RawMessage, error) {
	return h.post(ctx, "/tools/"+toolName, params)
}

func (h *HTTPStream) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("upstream: encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.applyHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: %w", h.baseURL, err)
	}
	defer resp.Body.Close()

	h.mu.Lock()
	useSSE := h.sse
	h.mu.Unlock()

	if useSSE && strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResult(resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: read response: %w", h.baseURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream: %s: status %d: %s", h.baseURL, resp.StatusCode, string(data))
	}
	return data, nil
}

// readSSEResult reads an SSE stream until a "result" event is seen,
// returning its data payload. Any "error" event aborts with its message.
func readSSEResult(body io.Reader) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == "result" {
				return json.RawMessage(data.String()), nil
			}
			if event == "error" {
				return nil, fmt.Errorf("upstream: backend sse error: %s", data.String())
			}
			event, data = "", strings.Builder{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("upstream: sse stream: %w", err)
	}
	return nil, fmt.Errorf("upstream: sse stream ended without a result event")
}

// Close releases idle HTTP connections. HTTPStream holds no per-call
// state, so there is nothing else to tear down.
func (h *HTTPStream) Close(ctx context.Context) error {
	h.client.CloseIdleConnections()
	return nil
}
