// Package deepseek adapts the DeepSeek chat API. The model catalogue is
// fetched live from the vendor rather than hardcoded.
package deepseek

import (
	"context"
	"net/http"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/openaiwire"
	"llmbridge/internal/models"
)

const defaultBaseURL = "https://api.deepseek.com"

// Adapter implements adapter.Adapter against the DeepSeek API.
type Adapter struct {
	client *openaiwire.Client
}

// New constructs the adapter. An empty baseURL selects the public API.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: openaiwire.NewClient(models.ProviderDeepSeek, apiKey, baseURL, httpClient),
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderDeepSeek
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	return a.client.ListModels(ctx)
}

// Cost is always 0: no pricing table is maintained for DeepSeek.
func (a *Adapter) Cost(usage models.Usage, model string) float64 {
	return 0
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := adapter.ValidateRequest(ctx, a, req); err != nil {
		return nil, err
	}

	resp, err := a.client.Chat(ctx, openaiwire.Payload(req, false))
	if err != nil {
		return nil, err
	}
	return resp.ToNormalized(models.ProviderDeepSeek, req.Model)
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (*adapter.Stream, error) {
	if err := adapter.ValidateRequest(ctx, a, req); err != nil {
		return nil, err
	}
	return a.client.OpenStream(ctx, openaiwire.Payload(req, true))
}

func (a *Adapter) Close() {
	a.client.CloseIdle()
}
