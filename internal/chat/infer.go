package chat

import (
	"strings"

	"llmbridge/internal/models"
)

// inferenceRule maps a model-name substring to a provider. Rules are
// checked in order; the first hit wins.
type inferenceRule struct {
	keyword  string
	provider models.Provider
}

var inferenceRules = []inferenceRule{
	{"gpt", models.ProviderOpenAI},
	{"deepseek", models.ProviderDeepSeek},
	{"qwen", models.ProviderSiliconFlow},
	{"glm", models.ProviderSiliconFlow},
	{"llama", models.ProviderSiliconFlow},
	{"sflow", models.ProviderSiliconFlow},
	{"silicon", models.ProviderSiliconFlow},
	{"stepfun-ai", models.ProviderSiliconFlow},
	{"yi-", models.ProviderSiliconFlow},
	{"internlm", models.ProviderSiliconFlow},
	{"doubao", models.ProviderDoubao},
}

// InferProvider guesses the provider from a model name with an ordered
// keyword match. It is a pure function: the same model string always
// yields the same provider. Unmatched names fall back to fallback.
func InferProvider(model string, fallback models.Provider) models.Provider {
	lower := strings.ToLower(model)
	for _, rule := range inferenceRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.provider
		}
	}
	return fallback
}
