// Package siliconflow adapts the SiliconFlow aggregation API. Model
// identifiers are fetched live and lowercased, matching how callers
// reference them.
package siliconflow

import (
	"context"
	"net/http"
	"strings"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/openaiwire"
	"llmbridge/internal/models"
)

const defaultBaseURL = "https://api.siliconflow.cn/v1"

// pricing is USD per 1K tokens for the hosted models we track. Models
// missing here cost 0.
var pricing = adapter.PriceTable{
	"deepseek-ai/DeepSeek-V3":                 {Prompt: 0.03, Completion: 0.06},
	"deepseek-ai/DeepSeek-V3.1":               {Prompt: 0.01, Completion: 0.03},
	"deepseek-ai/DeepSeek-R1-Distill-Qwen-7B": {Prompt: 0.0005, Completion: 0.0015},
	"stepfun-ai/step3":                        {Prompt: 0.003, Completion: 0.004},
}

// Adapter implements adapter.Adapter against the SiliconFlow API.
type Adapter struct {
	client *openaiwire.Client
}

// New constructs the adapter. An empty baseURL selects the public API.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: openaiwire.NewClient(models.ProviderSiliconFlow, apiKey, baseURL, httpClient),
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderSiliconFlow
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	ids, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		ids[i] = strings.ToLower(id)
	}
	return ids, nil
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
	return resp.ToNormalized(models.ProviderSiliconFlow, req.Model)
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
