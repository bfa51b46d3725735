// Command client exercises a running API endpoint from the terminal: it
// posts one generation request, prints the envelope, and writes any returned
// images to disk.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"server/internal/handler"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/run", "API endpoint URL")
	prompt := flag.String("prompt", "", "text prompt for image generation")
	negative := flag.String("negative", "", "negative prompt")
	steps := flag.Int("steps", 20, "sampling steps (1-100)")
	cfg := flag.Float64("cfg", 7.5, "CFG scale (1-20)")
	width := flag.Int("width", 512, "image width (64-2048)")
	height := flag.Int("height", 512, "image height (64-2048)")
	seed := flag.Int64("seed", -1, "sampler seed (negative for random)")
	timeout := flag.Duration("timeout", 5*time.Minute, "request timeout")
	outDir := flag.String("out", ".", "directory for downloaded images")
	flag.Parse()

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "a -prompt is required")
		flag.Usage()
		os.Exit(2)
	}

	input := map[string]any{
		"prompt":    *prompt,
		"steps":     *steps,
		"cfg_scale": *cfg,
		"width":     *width,
		"height":    *height,
	}
	if *negative != "" {
		input["negative_prompt"] = *negative
	}
	if *seed >= 0 {
		input["seed"] = *seed
	}

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		fatal("encode request: %v", err)
	}

	fmt.Printf("Generating %dx%d image for prompt: %s\n", *width, *height, *prompt)
	httpClient := &http.Client{Timeout: *timeout}
	resp, err := httpClient.Post(*endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		fatal("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env handler.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		fatal("decode response: %v", err)
	}

	if env.Status != "success" {
		fatal("generation failed (%s): %s", env.RequestID, env.Message)
	}

	fmt.Printf("Completed: prompt_id=%s outputs=%v\n", env.PromptID, env.Outputs)
	for _, img := range env.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", img.Filename, err)
			continue
		}
		path := filepath.Join(*outDir, img.Filename)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", img.Filename, err)
			continue
		}
		fmt.Printf("Saved %s (%d bytes)\n", path, len(data))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
