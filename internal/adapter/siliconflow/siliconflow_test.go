package siliconflow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbridge/internal/models"
)

func TestModels_LiveCatalogueLowercased(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":"deepseek-ai/DeepSeek-V3"},{"id":"Qwen/Qwen2.5-7B-Instruct"}]}`)
	}))
	defer srv.Close()

	a := New("sk-test", srv.URL, srv.Client())
	ids, err := a.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek-ai/deepseek-v3", "qwen/qwen2.5-7b-instruct"}, ids)
}

func TestCost_TrackedAndUntrackedModels(t *testing.T) {
	a := New("sk-test", "", nil)
	usage := models.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}

	assert.InDelta(t, 0.09, a.Cost(usage, "deepseek-ai/DeepSeek-V3"), 1e-9)
	assert.Zero(t, a.Cost(usage, "some/hosted-model"))
}
