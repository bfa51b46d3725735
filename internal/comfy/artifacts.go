package comfy

import (
	"context"
	"encoding/base64"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ArtifactFetcher is the slice of the client the extractor needs.
type ArtifactFetcher interface {
	FetchView(ctx context.Context, filename, subfolder, kind string) ([]byte, error)
}

// Extractor downloads and encodes every image a completed prompt produced.
type Extractor struct {
	fetcher ArtifactFetcher
	logger  zerolog.Logger
}

// NewExtractor wires an artifact fetcher with a logger.
func NewExtractor(fetcher ArtifactFetcher, logger *infra.Logger) *Extractor {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Extractor{fetcher: fetcher, logger: l}
}

// Extract walks the completed entry's output nodes and fetches every declared
// image. A failed fetch loses that one artifact only: it is logged, skipped,
// and never fails the extraction. The returned node ids always cover every
// output node, whether or not its artifacts survived.
func (e *Extractor) Extract(ctx context.Context, entry *HistoryEntry) ([]Artifact, []string) {
	artifacts := make([]Artifact, 0)
	nodes := make([]string, 0, len(entry.Outputs))
	for nodeID, out := range entry.Outputs {
		nodes = append(nodes, nodeID)
		for _, img := range out.Images {
			kind := img.Type
			if kind == "" {
				kind = "output"
			}
			data, err := e.fetcher.FetchView(ctx, img.Filename, img.Subfolder, kind)
			if err != nil {
				e.logger.Error().Err(err).
					Str("node_id", nodeID).
					Str("filename", img.Filename).
					Msg("failed to fetch artifact, skipping")
				continue
			}
			artifacts = append(artifacts, Artifact{
				Filename:  img.Filename,
				Subfolder: img.Subfolder,
				Type:      kind,
				Data:      base64.StdEncoding.EncodeToString(data),
			})
		}
	}
	sort.Strings(nodes)
	return artifacts, nodes
}
