// Package models defines the normalized chat types shared by every
// provider adapter and the orchestration layer.
package models

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream LLM vendor.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderDeepSeek    Provider = "deepseek"
	ProviderSiliconFlow Provider = "siliconflow"
	ProviderAliyuncs    Provider = "aliyuncs"
	ProviderDoubao      Provider = "doubao"
)

// All lists every supported provider in a stable order.
func All() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderDeepSeek,
		ProviderSiliconFlow,
		ProviderAliyuncs,
		ProviderDoubao,
	}
}

// ParseProvider converts a string into a Provider, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	candidate := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range All() {
		if candidate == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Valid reports whether the provider is one of the supported vendors.
func (p Provider) Valid() bool {
	for _, known := range All() {
		if p == known {
			return true
		}
	}
	return false
}

func (p Provider) String() string { return string(p) }

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational turn. Ordering within a slice is
// conversation order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Sampling defaults applied when the caller leaves a parameter unset.
const (
	DefaultTemperature      = 0.7
	DefaultTopP             = 1.0
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// ChatRequest is the normalized request every adapter consumes.
type ChatRequest struct {
	Model            string
	Messages         []Message
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        *int
	Stream           bool
}

// NewChatRequest builds a request with default sampling parameters.
func NewChatRequest(model string, messages []Message) ChatRequest {
	return ChatRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		FrequencyPenalty: DefaultFrequencyPenalty,
		PresencePenalty:  DefaultPresencePenalty,
	}
}

// Usage records token accounting for a single call. Vendor-omitted fields
// default to zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalized non-streaming result.
type ChatResponse struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Content      string   `json:"content"`
	FinishReason string   `json:"finish_reason"`
	Usage        Usage    `json:"usage"`
	Provider     Provider `json:"provider"`
}

// StreamChunk is one incremental piece of assistant output. An empty
// FinishReason means the generation has not terminated yet.
type StreamChunk struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}
