package handler

import (
	"encoding/base64"
	"math"
	"strings"

	"server/internal/workflow"
)

const (
	maxPromptLen    = 1000
	maxInitImageLen = 20 * 1024 * 1024
	b64ProbeLen     = 100
)

// ValidateInput checks the request payload before any network work happens.
// It returns the first violated rule's message, or "" when the payload is
// acceptable. No I/O.
//
// The init_image probe decodes only the first 100 characters of the payload,
// so a body that is corrupt further in can still pass here and fail on the
// backend. Kept that way deliberately: full decoding would change which
// requests are accepted.
func ValidateInput(input any) string {
	data, ok := input.(map[string]any)
	if !ok {
		return "Input must be a dictionary"
	}

	if wf, present := data["workflow"]; present {
		m, ok := wf.(map[string]any)
		if !ok {
			return "Workflow must be a dictionary"
		}
		if _, ok := m["prompt"]; !ok {
			return "Workflow must contain 'prompt' section"
		}
	} else if p, present := data["prompt"]; present {
		s, ok := p.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return "Prompt must be a non-empty string"
		}
		if len(s) > maxPromptLen {
			return "Prompt too long (max 1000 characters)"
		}
		if v, ok := intValue(data, "steps", workflow.DefaultSteps); !ok || v < 1 || v > 100 {
			return "steps must be between 1 and 100"
		}
		if v, ok := floatValue(data, "cfg_scale", workflow.DefaultCFGScale); !ok || v < 1 || v > 20 {
			return "cfg_scale must be between 1 and 20"
		}
		if v, ok := intValue(data, "width", workflow.DefaultWidth); !ok || v < 64 || v > 2048 {
			return "width must be between 64 and 2048"
		}
		if v, ok := intValue(data, "height", workflow.DefaultHeight); !ok || v < 64 || v > 2048 {
			return "height must be between 64 and 2048"
		}
	}

	if img, present := data["init_image"]; present {
		s, ok := img.(string)
		if !ok {
			return "Image data must be base64 encoded string"
		}
		if len(s) > maxInitImageLen {
			return "Image too large (max 20MB)"
		}
		probe := s
		if len(probe) > b64ProbeLen {
			probe = probe[:b64ProbeLen]
		}
		if _, err := base64.StdEncoding.DecodeString(probe); err != nil {
			return "Invalid base64 image data"
		}
	}

	return ""
}

// intValue reads a numeric field that must hold an integral value. Decoded
// JSON numbers are float64, so "must be an integer" means no fraction.
func intValue(data map[string]any, key string, fallback int) (int, bool) {
	v, present := data[key]
	if !present {
		return fallback, true
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func floatValue(data map[string]any, key string, fallback float64) (float64, bool) {
	v, present := data[key]
	if !present {
		return fallback, true
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return f, true
}
