// Package workflow builds ComfyUI prompt graphs from simple text-to-image
// parameters. A graph maps node ids to typed node records; edges are slot
// references to already-defined nodes, so built graphs are acyclic by
// construction.
package workflow

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
)

// Ref points at another node's output slot. It marshals to the wire shape
// ComfyUI expects, a two-element array of node id and slot index.
type Ref struct {
	Node string
	Slot int
}

// MarshalJSON renders the reference as ["<node>", <slot>].
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Node, r.Slot})
}

// Node is one computation step in a prompt graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph maps node ids to their definitions.
type Graph map[string]Node

// Node ids of the fixed text-to-image topology. The save node id is what
// callers see echoed back in a successful response's outputs list.
const (
	NodeSampler    = "3"
	NodeCheckpoint = "4"
	NodeLatent     = "5"
	NodePositive   = "6"
	NodeNegative   = "7"
	NodeDecode     = "8"
	NodeSave       = "9"
)

// Defaults applied when the caller omits a parameter.
const (
	DefaultSteps     = 20
	DefaultCFGScale  = 7.5
	DefaultWidth     = 512
	DefaultHeight    = 512
	DefaultSampler   = "euler"
	DefaultScheduler = "normal"
	DefaultModel     = "v1-5-pruned-emaonly.ckpt"
)

// Params are the simple-mode inputs with defaults already applied. A negative
// Seed means none was supplied and the builder picks a random one.
type Params struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	CFGScale       float64
	Width          int
	Height         int
	Seed           int64
	SamplerName    string
	Scheduler      string
	ModelName      string
}

// ParamsFromInput reads a validated simple-mode payload into Params, applying
// the documented defaults for every absent field.
func ParamsFromInput(input map[string]any) Params {
	p := Params{
		Prompt:         stringField(input, "prompt", ""),
		NegativePrompt: stringField(input, "negative_prompt", ""),
		Steps:          intField(input, "steps", DefaultSteps),
		CFGScale:       floatField(input, "cfg_scale", DefaultCFGScale),
		Width:          intField(input, "width", DefaultWidth),
		Height:         intField(input, "height", DefaultHeight),
		Seed:           -1,
		SamplerName:    stringField(input, "sampler_name", DefaultSampler),
		Scheduler:      stringField(input, "scheduler", DefaultScheduler),
		ModelName:      stringField(input, "model_name", DefaultModel),
	}
	if v, ok := input["seed"].(float64); ok && v >= 0 {
		p.Seed = int64(v)
	}
	return p
}

// Build assembles the fixed text-to-image graph: checkpoint loader, positive
// and negative text encodings, an empty latent sized to the request, the
// sampler wired to all four, then decode and save.
func Build(p Params) Graph {
	seed := p.Seed
	if seed < 0 {
		seed = randomSeed()
	}
	return Graph{
		NodeSampler: {
			ClassType: "KSampler",
			Inputs: map[string]any{
				"seed":         seed,
				"steps":        p.Steps,
				"cfg":          p.CFGScale,
				"sampler_name": p.SamplerName,
				"scheduler":    p.Scheduler,
				"denoise":      1.0,
				"model":        Ref{NodeCheckpoint, 0},
				"positive":     Ref{NodePositive, 0},
				"negative":     Ref{NodeNegative, 0},
				"latent_image": Ref{NodeLatent, 0},
			},
		},
		NodeCheckpoint: {
			ClassType: "CheckpointLoaderSimple",
			Inputs:    map[string]any{"ckpt_name": p.ModelName},
		},
		NodeLatent: {
			ClassType: "EmptyLatentImage",
			Inputs:    map[string]any{"width": p.Width, "height": p.Height, "batch_size": 1},
		},
		NodePositive: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": p.Prompt, "clip": Ref{NodeCheckpoint, 1}},
		},
		NodeNegative: {
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": p.NegativePrompt, "clip": Ref{NodeCheckpoint, 1}},
		},
		NodeDecode: {
			ClassType: "VAEDecode",
			Inputs:    map[string]any{"samples": Ref{NodeSampler, 0}, "vae": Ref{NodeCheckpoint, 2}},
		},
		NodeSave: {
			ClassType: "SaveImage",
			Inputs:    map[string]any{"filename_prefix": "ComfyUI", "images": Ref{NodeDecode, 0}},
		},
	}
}

// randomSeed draws four bytes from the system's CSPRNG, matching the sampler
// seed range ComfyUI accepts. Generations are non-reproducible unless the
// caller supplies a seed explicitly.
func randomSeed() int64 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int64(binary.BigEndian.Uint32(b[:]))
}

func stringField(input map[string]any, key, fallback string) string {
	if v, ok := input[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intField(input map[string]any, key string, fallback int) int {
	if v, ok := input[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func floatField(input map[string]any, key string, fallback float64) float64 {
	if v, ok := input[key].(float64); ok {
		return v
	}
	return fallback
}
