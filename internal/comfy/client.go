// Package comfy talks to a ComfyUI server over its HTTP surface: health,
// prompt submission, history, queue inspection and artifact download, plus
// the polling loop that waits for a submitted prompt to finish.
package comfy

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

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ErrUnhealthy indicates the server answered the health probe with a
// non-200 status.
var ErrUnhealthy = errors.New("comfy: server reported unhealthy status")

// ErrMissingPromptID indicates a submit response without a prompt id.
var ErrMissingPromptID = errors.New("comfy: submit response missing prompt_id")

// BackendError wraps any transport or status failure from the ComfyUI API.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("comfy: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Options configures the ComfyUI client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
}

// Client performs HTTP calls against a single ComfyUI server. It holds only
// read-only configuration and is safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
	logger        zerolog.Logger
}

type submitRequest struct {
	Prompt any `json:"prompt"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

type queueResponse struct {
	Running [][]any `json:"queue_running"`
	Pending [][]any `json:"queue_pending"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8188"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	healthTimeout := opts.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 10 * time.Second
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		healthTimeout: healthTimeout,
		logger:        logger,
	}, nil
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health probes /system_stats. It returns nil iff the server answers 200
// within the health timeout; a reachable server answering anything else
// yields an error wrapping ErrUnhealthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return &BackendError{Op: "health", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &BackendError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &BackendError{Op: "health", Err: fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)}
	}
	return nil
}

// Submit queues a prompt graph and returns the backend-assigned prompt id.
// The graph is posted verbatim as the request's "prompt" field, whether it
// came from the builder or straight from the caller.
func (c *Client) Submit(ctx context.Context, graph any) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: graph})
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &BackendError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Op: "submit", Err: err}
	}
	if resp.StatusCode >= 300 {
		return "", &BackendError{Op: "submit", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("comfy: decode submit response: %w", err)
	}
	if strings.TrimSpace(decoded.PromptID) == "" {
		return "", ErrMissingPromptID
	}
	c.logger.Debug().Str("prompt_id", decoded.PromptID).Msg("comfy: prompt queued")
	return decoded.PromptID, nil
}

// History fetches the record for one prompt id. A nil entry with a nil error
// means the prompt has not completed yet.
func (c *Client) History(ctx context.Context, id string) (*HistoryEntry, error) {
	var entries map[string]HistoryEntry
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(id), "history", &entries); err != nil {
		return nil, err
	}
	entry, ok := entries[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Queue snapshots the running and pending prompt ids. The wire format lists
// queue items as tuples whose second element is the prompt id.
func (c *Client) Queue(ctx context.Context) (*QueueState, error) {
	var decoded queueResponse
	if err := c.getJSON(ctx, "/queue", "queue", &decoded); err != nil {
		return nil, err
	}
	return &QueueState{
		Running: promptIDs(decoded.Running),
		Pending: promptIDs(decoded.Pending),
	}, nil
}

// FetchView downloads one rendered artifact's raw bytes.
func (c *Client) FetchView(ctx context.Context, filename, subfolder, kind string) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", subfolder)
	query.Set("type", kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, &BackendError{Op: "view", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Op: "view", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &BackendError{Op: "view", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Op: "view", Err: err}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &BackendError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BackendError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func promptIDs(items [][]any) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if len(item) < 2 {
			continue
		}
		if id, ok := item[1].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
