package comfy

// HistoryEntry is one completed prompt's record from /history. Its presence
// under the prompt id is the backend's only completion signal.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// NodeOutput lists the artifacts a single output node produced.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// ImageRef locates one rendered file on the ComfyUI host.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// QueueState is a snapshot of the backend's execution queue.
type QueueState struct {
	Running []string
	Pending []string
}

// Contains reports whether the prompt id is anywhere in the queue.
func (q *QueueState) Contains(id string) bool {
	for _, r := range q.Running {
		if r == id {
			return true
		}
	}
	for _, p := range q.Pending {
		if p == id {
			return true
		}
	}
	return false
}

// Artifact is one extracted output image, base64-encoded for transport.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Data      string `json:"data"`
}
