package adapter

import (
	"errors"
	"fmt"

	"llmbridge/internal/models"
)

// ErrInvalidRequest indicates the request failed validation before any
// network call was made.
var ErrInvalidRequest = errors.New("invalid chat request")

// UpstreamError reports a non-2xx vendor response. The raw status and a
// bounded copy of the body are kept for diagnostics; callers should not
// expose Body verbatim to untrusted clients.
type UpstreamError struct {
	Provider   models.Provider
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
