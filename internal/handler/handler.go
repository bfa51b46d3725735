// Package handler orchestrates one image-generation request end to end:
// validate the input, check the backend is reachable, build or accept a
// prompt graph, submit it, wait for completion and collect the artifacts.
// Every outcome, success or failure, becomes a uniform response envelope.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"server/internal/comfy"
	"server/internal/infra"
	"server/internal/workflow"
)

// UnknownRequestID is echoed when the inbound payload carries no id.
const UnknownRequestID = "unknown"

// Request is the inbound invocation payload.
type Request struct {
	ID    string `json:"id"`
	Input any    `json:"input"`
}

// Envelope is the uniform response for every outcome. Error envelopes always
// carry Message; success envelopes always carry PromptID, Images (possibly
// empty) and Outputs.
type Envelope struct {
	Status    string           `json:"status"`
	RequestID string           `json:"request_id"`
	Message   string           `json:"message,omitempty"`
	PromptID  string           `json:"prompt_id,omitempty"`
	Images    []comfy.Artifact `json:"images,omitempty"`
	Outputs   []string         `json:"outputs,omitempty"`
}

// MarshalJSON pins the wire shape of both envelope kinds: an error envelope
// carries only status, message and request_id; a success envelope always
// carries prompt_id, images and outputs, with empty lists rather than
// omitted keys when nothing survived extraction.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Status != "success" {
		return json.Marshal(struct {
			Status    string `json:"status"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		}{e.Status, e.Message, e.RequestID})
	}
	images := e.Images
	if images == nil {
		images = []comfy.Artifact{}
	}
	outputs := e.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	return json.Marshal(struct {
		Status    string           `json:"status"`
		PromptID  string           `json:"prompt_id"`
		Images    []comfy.Artifact `json:"images"`
		Outputs   []string         `json:"outputs"`
		RequestID string           `json:"request_id"`
	}{e.Status, e.PromptID, images, outputs, e.RequestID})
}

// Options configures a Handler.
type Options struct {
	Client        *comfy.Client
	Timeout       time.Duration
	PollInterval  time.Duration
	RetryInterval time.Duration
	Logger        *infra.Logger
}

// Handler owns the request lifecycle. It is built once at startup, holds only
// read-only configuration, and is safe for concurrent use; each request runs
// as one strictly sequential pass with no state surviving past its envelope.
type Handler struct {
	client    *comfy.Client
	poller    *comfy.Poller
	extractor *comfy.Extractor
	logger    zerolog.Logger
}

// New wires a Handler from a backend client and policy options.
func New(opts Options) *Handler {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Handler{
		client: opts.Client,
		poller: comfy.NewPoller(opts.Client, comfy.PollerOptions{
			PollInterval:  opts.PollInterval,
			RetryInterval: opts.RetryInterval,
			Timeout:       opts.Timeout,
			Logger:        opts.Logger,
		}),
		extractor: comfy.NewExtractor(opts.Client, opts.Logger),
		logger:    logger,
	}
}

// Handle runs one request through validate → health check → graph → submit →
// wait → extract and always returns a well-formed envelope.
//
// There is no compensating cancellation: once the backend has accepted a
// prompt, a later submission, polling or timeout failure leaves it running
// server-side with no client-side cleanup.
func (h *Handler) Handle(ctx context.Context, req Request) Envelope {
	requestID := req.ID
	if requestID == "" {
		requestID = UnknownRequestID
	}
	log := h.logger.With().Str("request_id", requestID).Logger()
	log.Info().Msg("processing request")

	if msg := ValidateInput(req.Input); msg != "" {
		log.Warn().Str("reason", msg).Msg("input validation failed")
		return errorEnvelope(requestID, "Input validation failed: "+msg)
	}
	input := req.Input.(map[string]any)

	if err := h.client.Health(ctx); err != nil {
		log.Error().Err(err).Msg("backend health check failed")
		if errors.Is(err, comfy.ErrUnhealthy) {
			return errorEnvelope(requestID, "ComfyUI server is not accessible")
		}
		return errorEnvelope(requestID, "Cannot connect to ComfyUI server")
	}

	var graph any
	if wf, ok := input["workflow"]; ok {
		graph = wf
		log.Info().Msg("using caller-supplied workflow")
	} else {
		// Validation lets a payload with neither workflow nor prompt through;
		// the builder has nothing to encode for it, so fail before anything
		// reaches the backend.
		if _, ok := input["prompt"]; !ok {
			log.Error().Msg("input carries neither workflow nor prompt")
			return errorEnvelope(requestID, "Internal server error: input has no prompt field")
		}
		params := workflow.ParamsFromInput(input)
		graph = workflow.Build(params)
		log.Info().Str("prompt", truncate(params.Prompt, 50)).Msg("built text-to-image workflow")
	}

	promptID, err := h.client.Submit(ctx, graph)
	if err != nil {
		log.Error().Err(err).Msg("failed to queue prompt")
		return errorEnvelope(requestID, "Internal server error: "+err.Error())
	}
	log.Info().Str("prompt_id", promptID).Msg("prompt queued, waiting for completion")

	entry, err := h.poller.Wait(ctx, promptID)
	if err != nil {
		log.Error().Err(err).Str("prompt_id", promptID).Msg("generation did not complete")
		var timedOut *comfy.TimeoutError
		if errors.As(err, &timedOut) {
			return errorEnvelope(requestID, "Generation timed out: "+timedOut.Error())
		}
		return errorEnvelope(requestID, "Internal server error: "+err.Error())
	}

	images, outputs := h.extractor.Extract(ctx, entry)
	log.Info().Int("images", len(images)).Msg("request completed")
	return Envelope{
		Status:    "success",
		RequestID: requestID,
		PromptID:  promptID,
		Images:    images,
		Outputs:   outputs,
	}
}

func errorEnvelope(requestID, message string) Envelope {
	return Envelope{Status: "error", RequestID: requestID, Message: message}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
