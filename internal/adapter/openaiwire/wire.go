// Package openaiwire implements the JSON wire format shared by the
// OpenAI-compatible vendors. Each vendor adapter builds on this package
// and applies its own toggles on top.
package openaiwire

import "llmbridge/internal/models"

// Message is a role/content pair on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatPayload is the request body for POST {base}/chat/completions.
// EnableThinking is a vendor-specific toggle (Aliyun DashScope requires
// it to be explicitly false on non-streaming calls); it stays absent for
// vendors that do not know the field.
type ChatPayload struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	Stream           bool      `json:"stream"`
	EnableThinking   *bool     `json:"enable_thinking,omitempty"`
}

// Payload converts a normalized request into the wire shape.
func Payload(req models.ChatRequest, stream bool) ChatPayload {
	messages := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, Message{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		})
	}

	return ChatPayload{
		Model:            req.Model,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
		Stream:           stream,
	}
}

// ChatResponse is the single-shot response body.
type ChatResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []Choice      `json:"choices"`
	Usage   *models.Usage `json:"usage"`
}

// Choice is one completion candidate; only the first is used.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ToNormalized maps the vendor body onto the normalized response.
// Usage fields missing from the body default to zero.
func (r *ChatResponse) ToNormalized(provider models.Provider, requestedModel string) (*models.ChatResponse, error) {
	if len(r.Choices) == 0 {
		return nil, errNoChoices
	}

	model := r.Model
	if model == "" {
		model = requestedModel
	}

	var usage models.Usage
	if r.Usage != nil {
		usage = *r.Usage
	}

	choice := r.Choices[0]
	return &models.ChatResponse{
		ID:           r.ID,
		Model:        model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        usage,
		Provider:     provider,
	}, nil
}

// errorEnvelope is the vendor error body; not every vendor fills it.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// modelList is the GET {base}/models catalogue body.
type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}
