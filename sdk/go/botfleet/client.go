package botfleet

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the botfleet server (e.g. "http://localhost:4000").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Streaming calls (Logs, Events) are bounded only by their context.
	Timeout time.Duration
}

// Client is an HTTP client for the botfleet API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or malformed.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("botfleet: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("botfleet: invalid BaseURL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	stream := *httpClient
	stream.Timeout = 0

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
		stream:  &stream,
	}, nil
}

// List returns every worker known to the server.
func (c *Client) List(ctx context.Context) ([]Worker, error) {
	var out []Worker
	if err := c.get(ctx, "/v1/workers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one worker by name, including resource stats when it is running.
func (c *Client) Get(ctx context.Context, name string) (*Worker, error) {
	var out Worker
	if err := c.get(ctx, "/v1/workers/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create provisions a new worker. The worker is left in the created phase.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Worker, error) {
	if req.Config == nil {
		req.Config = map[string]any{}
	}
	var out Worker
	if err := c.post(ctx, "/v1/workers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start starts a created or stopped worker.
func (c *Client) Start(ctx context.Context, name string) (*Worker, error) {
	return c.action(ctx, name, "start")
}

// Stop stops a running worker.
func (c *Client) Stop(ctx context.Context, name string) (*Worker, error) {
	return c.action(ctx, name, "stop")
}

// Restart restarts a running worker.
func (c *Client) Restart(ctx context.Context, name string) (*Worker, error) {
	return c.action(ctx, name, "restart")
}

// Remove deletes a worker and its container. Removing an unknown name succeeds.
func (c *Client) Remove(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/workers/"+url.PathEscape(name), nil)
	if err != nil {
		return fmt.Errorf("botfleet: create request: %w", err)
	}
	return c.doRequest(req, nil)
}

// Logs returns the last tail lines of a worker's combined output. A tail of
// zero uses the server default. The caller must close the returned reader.
func (c *Client) Logs(ctx context.Context, name string, tail int) (io.ReadCloser, error) {
	path := "/v1/workers/" + url.PathEscape(name) + "/logs"
	if tail > 0 {
		path += "?tail=" + strconv.Itoa(tail)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("botfleet: create request: %w", err)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("botfleet: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, parseErrorResponse(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// Events subscribes to the server's status event stream. Events are delivered
// on the returned channel until ctx is cancelled or the stream ends; the
// channel is then closed. The error channel receives at most one value.
func (c *Client) Events(ctx context.Context) (<-chan StatusEvent, <-chan error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("botfleet: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("botfleet: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, nil, parseErrorResponse(resp.StatusCode, body)
	}

	events := make(chan StatusEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		defer func() { _ = resp.Body.Close() }()
		if err := readEvents(ctx, resp.Body, events); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()
	return events, errs, nil
}

// readEvents parses a text/event-stream body and forwards status frames.
// Comment lines (keepalives) and other event types are skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- StatusEvent) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var id, event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "status" && data.Len() > 0 {
				var ev StatusEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					return fmt.Errorf("botfleet: decode event: %w", err)
				}
				ev.ID = id
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			id, event = "", ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("botfleet: read events: %w", err)
	}
	return nil
}

// Health reports the server's health. An unhealthy server (503) still
// returns a populated Health with a nil error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("botfleet: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("botfleet: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusServiceUnavailable {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("botfleet: read response body: %w", err)
		}
		var h Health
		if decodeEnvelope(body, &h) == nil && h.Status != "" {
			return &h, nil
		}
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	var h Health
	if err := handleResponse(resp, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) action(ctx context.Context, name, op string) (*Worker, error) {
	var out actionResponse
	if err := c.post(ctx, "/v1/workers/"+url.PathEscape(name)+"/"+op, nil, &out); err != nil {
		return nil, err
	}
	return out.Worker, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("botfleet: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("botfleet: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("botfleet: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("botfleet: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("botfleet: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	return decodeEnvelope(bodyBytes, dest)
}

// decodeEnvelope unwraps the server's { "data": ... } envelope into dest.
func decodeEnvelope(body []byte, dest any) error {
	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("botfleet: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(body, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}

	return apiErr
}
