// Package doubao adapts the Doubao (Volcengine ARK) chat API.
package doubao

import (
	"context"
	"net/http"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/openaiwire"
	"llmbridge/internal/models"
)

const defaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// pricing doubles as the model allow-list. ARK bills in CNY; the figures
// here are rough USD-equivalent estimates.
var pricing = adapter.PriceTable{
	"doubao-pro-4k":                    {Prompt: 0.0008, Completion: 0.002},
	"doubao-pro-32k":                   {Prompt: 0.0008, Completion: 0.002},
	"doubao-lite-4k":                   {Prompt: 0.0003, Completion: 0.0006},
	"doubao-lite-32k":                  {Prompt: 0.0003, Completion: 0.0006},
	"doubao-1-5-vision-pro-32k-250115": {Prompt: 0.0008, Completion: 0.002},
}

// Adapter implements adapter.Adapter against the ARK endpoint.
type Adapter struct {
	client *openaiwire.Client
}

// New constructs the adapter. An empty baseURL selects the public API.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: openaiwire.NewClient(models.ProviderDoubao, apiKey, baseURL, httpClient),
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderDoubao
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
	return resp.ToNormalized(models.ProviderDoubao, req.Model)
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
