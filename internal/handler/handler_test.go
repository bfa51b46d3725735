package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/comfy"
	"server/internal/workflow"
)

// fakeComfy is an in-memory stand-in for a ComfyUI server.
type fakeComfy struct {
	mu          sync.Mutex
	healthy     bool
	promptID    string
	completed   map[string]any // history payload once the prompt finishes
	inQueue     bool
	viewData    []byte
	viewStatus  int
	submitCalls int
	totalCalls  int
}

func newFakeComfy() *fakeComfy {
	return &fakeComfy{
		healthy:    true,
		promptID:   "prompt-1",
		inQueue:    false,
		viewData:   []byte{0x89, 'P', 'N', 'G'},
		viewStatus: http.StatusOK,
		completed: map[string]any{
			"outputs": map[string]any{
				workflow.NodeSave: map[string]any{"images": []any{
					map[string]any{"filename": "ComfyUI_0001.png", "subfolder": "", "type": "output"},
				}},
			},
		},
	}
}

func (f *fakeComfy) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.totalCalls++
		switch {
		case r.URL.Path == "/system_stats":
			if !f.healthy {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"system": map[string]any{}})
		case r.URL.Path == "/prompt":
			f.submitCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": f.promptID})
		case r.URL.Path == "/history/"+f.promptID:
			payload := map[string]any{}
			if f.completed != nil {
				payload[f.promptID] = f.completed
			}
			_ = json.NewEncoder(w).Encode(payload)
		case r.URL.Path == "/queue":
			queue := map[string]any{"queue_running": []any{}, "queue_pending": []any{}}
			if f.inQueue {
				queue["queue_running"] = []any{[]any{0, f.promptID}}
			}
			_ = json.NewEncoder(w).Encode(queue)
		case r.URL.Path == "/view":
			w.WriteHeader(f.viewStatus)
			if f.viewStatus == http.StatusOK {
				_, _ = w.Write(f.viewData)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, baseURL string, timeout time.Duration) *Handler {
	t.Helper()
	client, err := comfy.NewClient(comfy.Options{BaseURL: baseURL})
	require.NoError(t, err)
	return New(Options{
		Client:        client,
		Timeout:       timeout,
		PollInterval:  5 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})
}

func TestHandleSimplePromptSucceeds(t *testing.T) {
	fake := newFakeComfy()
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{
		ID: "req-1",
		Input: map[string]any{
			"prompt":    "a cat",
			"steps":     float64(20),
			"cfg_scale": 7.5,
			"width":     float64(512),
			"height":    float64(512),
		},
	})

	require.Equal(t, "success", env.Status)
	require.Equal(t, "req-1", env.RequestID)
	require.Equal(t, "prompt-1", env.PromptID)
	require.Contains(t, env.Outputs, workflow.NodeSave)
	require.Len(t, env.Images, 1)
	require.Equal(t, "ComfyUI_0001.png", env.Images[0].Filename)

	decoded, err := base64.StdEncoding.DecodeString(env.Images[0].Data)
	require.NoError(t, err)
	require.Equal(t, fake.viewData, decoded)
}

func TestHandleCallerSuppliedWorkflowIsUsedVerbatim(t *testing.T) {
	fake := newFakeComfy()
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{
		ID: "req-2",
		Input: map[string]any{
			"workflow": map[string]any{"prompt": map[string]any{"1": map[string]any{"class_type": "SaveImage"}}},
		},
	})

	require.Equal(t, "success", env.Status)
	require.Equal(t, 1, fake.submitCalls)
}

func TestHandleValidationFailureShortCircuits(t *testing.T) {
	fake := newFakeComfy()
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{
		ID:    "req-3",
		Input: map[string]any{"prompt": "x", "steps": float64(150)},
	})

	require.Equal(t, "error", env.Status)
	require.Equal(t, "Input validation failed: steps must be between 1 and 100", env.Message)
	require.Equal(t, "req-3", env.RequestID)
	require.Zero(t, fake.totalCalls, "no backend call may happen before validation passes")
}

func TestHandleInputWithoutPromptNeverSubmits(t *testing.T) {
	fake := newFakeComfy()
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{ID: "req-9", Input: map[string]any{}})

	require.Equal(t, "error", env.Status)
	require.Contains(t, env.Message, "Internal server error")
	require.Contains(t, env.Message, "prompt")
	require.Zero(t, fake.submitCalls, "a promptless input must never reach the backend")
}

func TestHandleUnhealthyBackendStopsBeforeSubmit(t *testing.T) {
	fake := newFakeComfy()
	fake.healthy = false
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{ID: "req-4", Input: map[string]any{"prompt": "a cat"}})

	require.Equal(t, "error", env.Status)
	require.Equal(t, "ComfyUI server is not accessible", env.Message)
	require.Zero(t, fake.submitCalls)
}

func TestHandleUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens here anymore
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{ID: "req-5", Input: map[string]any{"prompt": "a cat"}})

	require.Equal(t, "error", env.Status)
	require.Equal(t, "Cannot connect to ComfyUI server", env.Message)
}

func TestHandleGenerationTimeout(t *testing.T) {
	fake := newFakeComfy()
	fake.completed = nil // never finishes
	fake.inQueue = true  // but stays visibly queued
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, 50*time.Millisecond)

	env := h.Handle(context.Background(), Request{ID: "req-6", Input: map[string]any{"prompt": "a cat"}})

	require.Equal(t, "error", env.Status)
	require.Contains(t, env.Message, "Generation timed out")
	require.Contains(t, env.Message, "timed out after")
	require.Contains(t, env.Message, "seconds")
}

func TestHandleLostJobIsNotATimeout(t *testing.T) {
	fake := newFakeComfy()
	fake.completed = nil
	fake.inQueue = false // vanished from both signals
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{ID: "req-7", Input: map[string]any{"prompt": "a cat"}})

	require.Equal(t, "error", env.Status)
	require.Contains(t, env.Message, "Internal server error")
	require.Contains(t, env.Message, "not found in queue or history")
	require.NotContains(t, env.Message, "timed out")
}

func TestHandlePartialArtifactFailureStillSucceeds(t *testing.T) {
	fake := newFakeComfy()
	fake.viewStatus = http.StatusInternalServerError
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{ID: "req-8", Input: map[string]any{"prompt": "a cat"}})

	require.Equal(t, "success", env.Status)
	require.Empty(t, env.Images)
	require.Contains(t, env.Outputs, workflow.NodeSave)
}

func TestHandleDefaultsMissingRequestID(t *testing.T) {
	fake := newFakeComfy()
	srv := fake.server(t)
	h := newTestHandler(t, srv.URL, time.Second)

	env := h.Handle(context.Background(), Request{Input: map[string]any{"prompt": "a cat"}})
	require.Equal(t, UnknownRequestID, env.RequestID)
	require.Equal(t, "success", env.Status)
}
