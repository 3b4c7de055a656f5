package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbridge/internal/adapter"
	"llmbridge/internal/chat"
	"llmbridge/internal/config"
	"llmbridge/internal/models"
	"llmbridge/internal/registry"
	"llmbridge/internal/sse"
	"llmbridge/internal/store"
)

type fakeAdapter struct {
	provider   models.Provider
	reply      string
	streamBody string
	err        error
}

func (f *fakeAdapter) Provider() models.Provider { return f.provider }

func (f *fakeAdapter) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ChatResponse{
		ID:           "chatcmpl-1",
		Model:        req.Model,
		Content:      f.reply,
		FinishReason: "stop",
		Usage:        models.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		Provider:     f.provider,
	}, nil
}

func (f *fakeAdapter) ChatStream(ctx context.Context, req models.ChatRequest) (*adapter.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	body := io.NopCloser(strings.NewReader(f.streamBody))
	return adapter.NewStream(sse.NewDecoder(body), body), nil
}

func (f *fakeAdapter) Models(ctx context.Context) ([]string, error) {
	return []string{"gpt-4"}, nil
}

func (f *fakeAdapter) Cost(usage models.Usage, model string) float64 { return 0.5 }

func (f *fakeAdapter) Close() {}

type fakeCatalog struct {
	adapters map[models.Provider]adapter.Adapter
}

func (c *fakeCatalog) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(c.adapters))
	for p := range c.adapters {
		out = append(out, p)
	}
	return out
}

func (c *fakeCatalog) Adapter(p models.Provider, apiKey, baseURL string) (adapter.Adapter, error) {
	a, ok := c.adapters[p]
	if !ok {
		return nil, registry.ErrMissingCredentials
	}
	return a, nil
}

func newTestServer(t *testing.T, adapters map[models.Provider]adapter.Adapter) (*Server, *store.MemStore) {
	t.Helper()

	catalog := &fakeCatalog{adapters: adapters}
	mem := store.NewMemStore()
	svc := chat.NewService(catalog, mem, mem, chat.Options{DefaultProvider: models.ProviderOpenAI})

	cfg := config.Config{Server: config.ServerConfig{Port: 8000}}
	srv, err := New(cfg, svc, catalog, mem)
	require.NoError(t, err)
	return srv, mem
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRouteRendersErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"Not Found","type":"invalid_request_error"}}`, rec.Body.String())

	rec = doRequest(srv, http.MethodDelete, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "Method Not Allowed")
}

func TestChatCompletions(t *testing.T) {
	srv, mem := newTestServer(t, map[models.Provider]adapter.Adapter{
		models.ProviderOpenAI: &fakeAdapter{provider: models.ProviderOpenAI, reply: "hi there"},
	})

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result chat.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "hi there", result.Content)
	assert.Equal(t, models.ProviderOpenAI, result.Provider)
	assert.Equal(t, 0.5, result.Cost)

	require.Len(t, mem.UsageRecords(), 1)
}

func TestChatCompletions_RejectsStreamFlag(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"x"}],"stream":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/chat/stream")
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/v1/chat/completions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_UnknownProvider(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"provider":"anthropic","model":"claude-3","messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_UpstreamErrorMapsTo502(t *testing.T) {
	srv, _ := newTestServer(t, map[models.Provider]adapter.Adapter{
		models.ProviderOpenAI: &fakeAdapter{
			provider: models.ProviderOpenAI,
			err:      &adapter.UpstreamError{Provider: models.ProviderOpenAI, StatusCode: 500, Body: "boom"},
		},
	})

	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestChatCompletions_MissingCredentialsMapsTo500(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChatStream_SSEContract(t *testing.T) {
	streamBody := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	srv, _ := newTestServer(t, map[models.Provider]adapter.Adapter{
		models.ProviderOpenAI: &fakeAdapter{provider: models.ProviderOpenAI, streamBody: streamBody},
	})

	rec := doRequest(srv, http.MethodPost, "/v1/chat/stream",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(lines), 3)

	// Content frames, then metadata, then the sentinel.
	assert.Contains(t, lines[0], `"Hel"`)
	assert.Contains(t, lines[len(lines)-2], `"type":"metadata"`)
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])
}

func TestChatStream_SetupFailureIsJSONError(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodPost, "/v1/chat/stream",
		`{"model":"gpt-4","messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestModelsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, map[models.Provider]adapter.Adapter{
		models.ProviderOpenAI: &fakeAdapter{provider: models.ProviderOpenAI},
	})

	rec := doRequest(srv, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4")

	rec = doRequest(srv, http.MethodGet, "/v1/models?provider=openai", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4")

	rec = doRequest(srv, http.MethodGet, "/v1/models?provider=anthropic", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	srv, mem := newTestServer(t, nil)
	ctx := context.Background()

	conv := &store.Conversation{UserID: 1, Title: "kept", Model: "gpt-4", Provider: models.ProviderOpenAI}
	require.NoError(t, mem.Create(ctx, conv))
	require.NoError(t, mem.AppendMessage(ctx, conv.ID, models.RoleUser, "hello", 0))

	rec := doRequest(srv, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kept")

	rec = doRequest(srv, http.MethodGet, "/v1/conversations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")

	rec = doRequest(srv, http.MethodDelete, "/v1/conversations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/v1/conversations/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversation_BadID(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, http.MethodGet, "/v1/conversations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
