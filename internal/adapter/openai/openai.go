// Package openai adapts the OpenAI chat completions API.
package openai

import (
	"context"
	"net/http"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/openaiwire"
	"llmbridge/internal/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// pricing is USD per 1K tokens and doubles as the model allow-list.
var pricing = adapter.PriceTable{
	"gpt-4":               {Prompt: 0.03, Completion: 0.06},
	"gpt-4-turbo-preview": {Prompt: 0.01, Completion: 0.03},
	"gpt-3.5-turbo":       {Prompt: 0.0005, Completion: 0.0015},
	"gpt-3.5-turbo-16k":   {Prompt: 0.003, Completion: 0.004},
}

// Adapter implements adapter.Adapter against api.openai.com.
type Adapter struct {
	client *openaiwire.Client
}

// New constructs the adapter. An empty baseURL selects the public API.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: openaiwire.NewClient(models.ProviderOpenAI, apiKey, baseURL, httpClient),
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderOpenAI
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	return pricing.Models(), nil
}

func (a *Adapter) Cost(usage models.Usage, model string) float64 {
	return pricing.Cost(usage, model)
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := adapter.ValidateRequest(ctx, a, req); err != nil {
		return nil, err
	}

	resp, err := a.client.Chat(ctx, openaiwire.Payload(req, false))
	if err != nil {
		return nil, err
	}
	return resp.ToNormalized(models.ProviderOpenAI, req.Model)
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
