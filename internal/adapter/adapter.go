// Package adapter defines the contract every vendor integration must
// satisfy, plus the error taxonomy and helpers shared across vendors.
package adapter

import (
	"context"
	"fmt"

	"llmbridge/internal/models"
)

// Adapter is the normalized chat contract for one vendor. Implementations
// translate requests into vendor payloads, issue the HTTP calls, and map
// responses back; the orchestrator never special-cases a vendor.
type Adapter interface {
	// Provider returns the vendor identity this adapter serves.
	Provider() models.Provider

	// Chat issues a blocking, non-streaming completion.
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)

	// ChatStream opens a fresh upstream HTTP stream. The caller must
	// Close the returned stream; closing cancels the connection.
	ChatStream(ctx context.Context, req models.ChatRequest) (*Stream, error)

	// Models returns the model identifiers this adapter will accept,
	// either from a static allow-list or a live catalogue call.
	Models(ctx context.Context) ([]string, error)

	// Cost estimates the USD cost of a call. Best-effort: unknown models
	// cost 0, and the estimate is never negative.
	Cost(usage models.Usage, model string) float64

	// Close releases pooled network resources. The adapter must not be
	// used afterwards.
	Close()
}

// ValidateRequest applies the request invariants common to every vendor:
// a non-empty message sequence, temperature within [0,2], and a model the
// adapter reports as available. Violations wrap ErrInvalidRequest and are
// raised before any completion I/O.
func ValidateRequest(ctx context.Context, a Adapter, req models.ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages cannot be empty", ErrInvalidRequest)
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("%w: temperature %g must be between 0 and 2", ErrInvalidRequest, req.Temperature)
	}

	available, err := a.Models(ctx)
	if err != nil {
		return fmt.Errorf("list models for %s: %w", a.Provider(), err)
	}
	for _, id := range available {
		if id == req.Model {
			return nil
		}
	}
	return fmt.Errorf("%w: model %q not supported by %s", ErrInvalidRequest, req.Model, a.Provider())
}
