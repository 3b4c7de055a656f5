// Package sse decodes the line-oriented event streams produced by
// OpenAI-compatible chat endpoints into normalized stream chunks.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"llmbridge/internal/models"
)

const (
	dataPrefix    = "data:"
	doneSentinel  = "[DONE]"
	commentPrefix = ":"

	// The default bufio.Scanner limit of 64 KiB is too small for long
	// completions delivered as a single event.
	maxLineSize = 1 << 20
)

// frame mirrors the subset of a vendor stream event the decoder cares
// about. Content is a pointer so a present-but-empty delta is still
// distinguishable from an absent one.
type frame struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *models.Usage `json:"usage"`
}

// Decoder turns a raw SSE body into a sequence of models.StreamChunk.
// Malformed frames are skipped rather than aborting the stream; the skip
// count is exposed for observability. Decoder is not safe for concurrent
// use.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger

	usage   *models.Usage
	skipped int
	done    bool
}

// NewDecoder wraps the reader (typically an HTTP response body).
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{
		scanner: scanner,
		logger:  slog.Default(),
	}
}

// Next returns the next chunk. It returns io.EOF once the done sentinel is
// seen or the underlying stream closes; any other error is a transport
// failure from the reader.
func (d *Decoder) Next() (models.StreamChunk, error) {
	if d.done {
		return models.StreamChunk{}, io.EOF
	}

	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())

		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneSentinel {
			d.done = true
			return models.StreamChunk{}, io.EOF
		}

		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			// One garbled frame must not kill an otherwise healthy
			// stream. Count and keep going.
			d.skipped++
			d.logger.Warn("skipping malformed stream frame", "error", err)
			continue
		}

		if f.Usage != nil {
			u := *f.Usage
			d.usage = &u
		}

		if len(f.Choices) == 0 {
			continue
		}
		choice := f.Choices[0]
		if choice.Delta.Content == nil && choice.FinishReason == nil {
			continue
		}

		var chunk models.StreamChunk
		if choice.Delta.Content != nil {
			chunk.Content = *choice.Delta.Content
		}
		if choice.FinishReason != nil {
			chunk.FinishReason = *choice.FinishReason
		}
		return chunk, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return models.StreamChunk{}, err
	}
	return models.StreamChunk{}, io.EOF
}

// TrailingUsage returns vendor-reported usage captured from the stream, if
// any frame carried one.
func (d *Decoder) TrailingUsage() (models.Usage, bool) {
	if d.usage == nil {
		return models.Usage{}, false
	}
	return *d.usage, true
}

// Skipped reports how many malformed frames were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}
