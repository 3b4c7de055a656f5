package adapter

import (
	"io"

	"llmbridge/internal/models"
	"llmbridge/internal/sse"
)

// Stream is a finite, non-restartable sequence of chunks backed by one
// upstream HTTP response. Close must always be called; it releases the
// connection even when the consumer stops early.
type Stream struct {
	decoder *sse.Decoder
	body    io.Closer
}

// NewStream pairs a decoder with the response body that feeds it.
func NewStream(decoder *sse.Decoder, body io.Closer) *Stream {
	return &Stream{decoder: decoder, body: body}
}

// Next yields the next chunk, or io.EOF when the stream terminates.
func (s *Stream) Next() (models.StreamChunk, error) {
	return s.decoder.Next()
}

// Usage returns vendor-reported usage when the stream carried one.
func (s *Stream) Usage() (models.Usage, bool) {
	return s.decoder.TrailingUsage()
}

// Close terminates the upstream connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
