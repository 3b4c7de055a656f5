// Package aliyuncs adapts Aliyun DashScope's OpenAI-compatible mode.
// DashScope requires thinking to be disabled explicitly on non-streaming
// calls, a flag the other vendors do not know.
package aliyuncs

import (
	"context"
	"net/http"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/openaiwire"
	"llmbridge/internal/models"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// qwenModels is the static DashScope allow-list. DashScope has no
// catalogue endpoint on the compatible-mode surface.
var qwenModels = []string{
	"qwen-long",
	"qwq-plus",
	"qwq-plus-latest",
	"qwen-max",
	"qwen-max-latest",
	"qwen-max-2025-01-25",
	"qwen-plus",
	"qwen-plus-latest",
	"qwen-plus-2025-01-25",
	"qwen-turbo",
	"qwen-turbo-latest",
	"qwen-math-plus",
	"qwen-math-turbo",
	"qwen-coder-plus",
	"qwen-coder-turbo",
	"qwq-32b",
	"qwq-32b-preview",
	"qwen3-235b-a22b",
	"qwen3-32b",
	"qwen3-30b-a3b",
	"qwen3-14b",
	"qwen3-8b",
	"qwen3-4b",
	"qwen3-1.7b",
	"qwen3-0.6b",
	"qwen2.5-72b-instruct",
	"qwen2.5-32b-instruct",
	"qwen2.5-14b-instruct",
	"qwen2.5-7b-instruct",
	"qwen2.5-coder-32b-instruct",
	"qwen2.5-coder-7b-instruct",
	"qwen2-72b-instruct",
	"qwen2-7b-instruct",
	"qwen1.5-110b-chat",
	"qwen1.5-72b-chat",
	"codeqwen1.5-7b-chat",
}

// Adapter implements adapter.Adapter against DashScope compatible mode.
type Adapter struct {
	client *openaiwire.Client
}

// New constructs the adapter. An empty baseURL selects the public API.
func New(apiKey, baseURL string, httpClient *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: openaiwire.NewClient(models.ProviderAliyuncs, apiKey, baseURL, httpClient),
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderAliyuncs
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	ids := make([]string, len(qwenModels))
	copy(ids, qwenModels)
	return ids, nil
}

// Cost is always 0: no pricing table is maintained for DashScope.
func (a *Adapter) Cost(usage models.Usage, model string) float64 {
	return 0
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := adapter.ValidateRequest(ctx, a, req); err != nil {
		return nil, err
	}

	payload := openaiwire.Payload(req, false)
	disabled := false
	payload.EnableThinking = &disabled

	resp, err := a.client.Chat(ctx, payload)
	if err != nil {
		return nil, err
	}
	return resp.ToNormalized(models.ProviderAliyuncs, req.Model)
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
