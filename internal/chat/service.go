// Package chat implements the orchestration layer: it resolves a
// provider, merges conversation history, dispatches to the adapter, and
// handles usage accounting and persistence for both single-shot and
// streaming calls.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"llmbridge/internal/adapter"
	"llmbridge/internal/models"
	"llmbridge/internal/store"
)

// historyLimit caps how many persisted turns are replayed in front of
// the new messages when continuing a conversation.
const historyLimit = 10

// titleLimit bounds the auto-generated conversation title.
const titleLimit = 50

// AdapterSource resolves a provider identity to a live adapter. The
// registry satisfies this; tests inject fakes.
type AdapterSource interface {
	Adapter(p models.Provider, apiKey, baseURL string) (adapter.Adapter, error)
}

// Options tunes the orchestrator.
type Options struct {
	// DefaultProvider serves model names no inference rule matches.
	DefaultProvider models.Provider
	// SystemPrompt is prepended when the merged messages contain no
	// system turn. Empty disables the behavior.
	SystemPrompt string
	// SavePartialOnDisconnect persists a partially streamed reply when
	// the consumer goes away before the stream finishes.
	SavePartialOnDisconnect bool
}

// Service is the single entry point request handlers use for chat.
type Service struct {
	adapters      AdapterSource
	conversations store.ConversationStore
	usage         store.UsageStore
	opts          Options
	logger        *slog.Logger
}

// NewService wires the orchestrator.
func NewService(adapters AdapterSource, conversations store.ConversationStore, usage store.UsageStore, opts Options) *Service {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = models.ProviderOpenAI
	}
	return &Service{
		adapters:      adapters,
		conversations: conversations,
		usage:         usage,
		opts:          opts,
		logger:        slog.Default(),
	}
}

// Params is the caller-boundary request shape.
type Params struct {
	UserID           int64
	Provider         models.Provider // empty means infer from the model name
	Model            string
	Messages         []models.Message
	ConversationID   int64 // 0 means a fresh conversation
	SaveConversation bool
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
}

// Result is the consolidated non-streaming outcome.
type Result struct {
	ID             string          `json:"id"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Model          string          `json:"model"`
	Provider       models.Provider `json:"provider"`
	Content        string          `json:"content"`
	FinishReason   string          `json:"finish_reason"`
	Usage          models.Usage    `json:"usage"`
	Cost           float64         `json:"cost"`
	ResponseTime   float64         `json:"response_time"`
	CreatedAt      time.Time       `json:"created_at"`
}

// StreamMetadata is the trailing frame of a streaming call, emitted
// after every content chunk has been relayed.
type StreamMetadata struct {
	Type           string       `json:"type"`
	ConversationID int64        `json:"conversation_id,omitempty"`
	Usage          models.Usage `json:"usage"`
	Cost           float64      `json:"cost"`
	ResponseTime   float64      `json:"response_time"`
}

// Chat performs a single-shot completion.
func (s *Service) Chat(ctx context.Context, p Params) (*Result, error) {
	start := time.Now()

	prep, err := s.prepare(ctx, p)
	if err != nil {
		return nil, err
	}

	resp, err := prep.adapter.Chat(ctx, prep.request)
	if err != nil {
		s.logger.Error("chat call failed",
			"provider", prep.provider,
			"model", p.Model,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, fmt.Errorf("provider %s chat: %w", prep.provider, err)
	}

	responseTime := time.Since(start)
	cost := prep.adapter.Cost(resp.Usage, p.Model)

	conversationID, err := s.persist(ctx, p, prep, resp.Content, resp.Usage, cost, responseTime)
	if err != nil {
		return nil, err
	}

	return &Result{
		ID:             resp.ID,
		ConversationID: conversationID,
		Model:          resp.Model,
		Provider:       resp.Provider,
		Content:        resp.Content,
		FinishReason:   resp.FinishReason,
		Usage:          resp.Usage,
		Cost:           cost,
		ResponseTime:   responseTime.Seconds(),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ChatStream performs a streaming completion. Each decoded chunk is
// handed to send immediately; after the upstream sequence finishes the
// metadata is returned for the caller to emit as the final frame.
//
// When persistence fails after content has been delivered, the metadata
// is still returned alongside the error so the caller can finish the
// stream and report the failure separately.
func (s *Service) ChatStream(ctx context.Context, p Params, send func(models.StreamChunk) error) (*StreamMetadata, error) {
	start := time.Now()

	prep, err := s.prepare(ctx, p)
	if err != nil {
		return nil, err
	}

	stream, err := prep.adapter.ChatStream(ctx, prep.request)
	if err != nil {
		s.logger.Error("stream open failed",
			"provider", prep.provider,
			"model", p.Model,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, fmt.Errorf("provider %s stream: %w", prep.provider, err)
	}
	defer stream.Close()

	var fullContent string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("stream read failed",
				"provider", prep.provider,
				"model", p.Model,
				"elapsed", time.Since(start),
				"error", err,
			)
			return nil, fmt.Errorf("provider %s stream: %w", prep.provider, err)
		}

		if chunk.Content != "" {
			fullContent += chunk.Content
		}

		if err := send(chunk); err != nil {
			// Consumer went away. The upstream still generated tokens,
			// so usage is always recorded; the conversation turns are
			// kept only when partial saves are enabled.
			reported, ok := stream.Usage()
			usage := streamUsage(prep, fullContent, reported, ok)
			cost := prep.adapter.Cost(usage, p.Model)
			record := p
			if !s.opts.SavePartialOnDisconnect {
				record.SaveConversation = false
			}
			if _, perr := s.persist(ctx, record, prep, fullContent, usage, cost, time.Since(start)); perr != nil {
				s.logger.Error("disconnect bookkeeping failed", "error", perr)
			}
			return nil, fmt.Errorf("stream consumer: %w", err)
		}
	}

	reported, reportedOK := stream.Usage()
	usage := streamUsage(prep, fullContent, reported, reportedOK)
	responseTime := time.Since(start)
	cost := prep.adapter.Cost(usage, p.Model)

	conversationID, persistErr := s.persist(ctx, p, prep, fullContent, usage, cost, responseTime)

	meta := &StreamMetadata{
		Type:           "metadata",
		ConversationID: conversationID,
		Usage:          usage,
		Cost:           cost,
		ResponseTime:   responseTime.Seconds(),
	}
	return meta, persistErr
}

// prepared carries everything resolved ahead of the upstream call.
type prepared struct {
	provider     models.Provider
	adapter      adapter.Adapter
	conversation *store.Conversation
	newMessages  []models.Message
	request      models.ChatRequest
}

// prepare runs steps shared by both call modes: provider resolution,
// adapter lookup, message normalization, and history merge.
func (s *Service) prepare(ctx context.Context, p Params) (*prepared, error) {
	provider := p.Provider
	if provider == "" {
		if inferred := InferProvider(p.Model, ""); inferred != "" {
			provider = inferred
		} else {
			provider = s.opts.DefaultProvider
			s.logger.Warn("could not determine provider from model name, using default",
				"model", p.Model, "default", provider)
		}
	}

	a, err := s.adapters.Adapter(provider, "", "")
	if err != nil {
		return nil, err
	}

	newMessages, err := normalizeMessages(p.Messages)
	if err != nil {
		return nil, err
	}

	merged := newMessages
	var conversation *store.Conversation
	if p.ConversationID != 0 {
		conversation, err = s.conversations.Get(ctx, p.ConversationID, p.UserID)
		if err != nil {
			return nil, err
		}
		if conversation.Provider != provider {
			s.logger.Warn("provider mismatch with stored conversation",
				"conversation", conversation.Provider, "request", provider)
		}

		turns, err := s.conversations.Messages(ctx, conversation.ID, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load conversation history: %w", err)
		}
		history := make([]models.Message, 0, len(turns))
		for _, turn := range turns {
			history = append(history, models.Message{Role: turn.Role, Content: turn.Content})
		}
		merged = append(history, newMessages...)
	}

	req := models.NewChatRequest(p.Model, s.withSystemPrompt(merged))
	if p.Temperature != nil {
		req.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		req.TopP = *p.TopP
	}
	if p.FrequencyPenalty != nil {
		req.FrequencyPenalty = *p.FrequencyPenalty
	}
	if p.PresencePenalty != nil {
		req.PresencePenalty = *p.PresencePenalty
	}
	req.MaxTokens = p.MaxTokens

	return &prepared{
		provider:     provider,
		adapter:      a,
		conversation: conversation,
		newMessages:  newMessages,
		request:      req,
	}, nil
}

// persist appends the exchanged turns and records usage. Conversation
// writes only happen when the caller asked for them; the usage record is
// written unconditionally. Returns the conversation id, 0 when nothing
// was saved.
func (s *Service) persist(ctx context.Context, p Params, prep *prepared, assistantReply string, usage models.Usage, cost float64, responseTime time.Duration) (int64, error) {
	conversation := prep.conversation

	if p.SaveConversation {
		if conversation == nil {
			conversation = &store.Conversation{
				UserID:   p.UserID,
				Title:    conversationTitle(prep.newMessages),
				Model:    p.Model,
				Provider: prep.provider,
			}
			if err := s.conversations.Create(ctx, conversation); err != nil {
				return 0, fmt.Errorf("create conversation: %w", err)
			}
		}

		for _, msg := range prep.newMessages {
			if err := s.conversations.AppendMessage(ctx, conversation.ID, msg.Role, msg.Content, 0); err != nil {
				return conversation.ID, fmt.Errorf("save user message: %w", err)
			}
		}
		if err := s.conversations.AppendMessage(ctx, conversation.ID, models.RoleAssistant, assistantReply, usage.CompletionTokens); err != nil {
			return conversation.ID, fmt.Errorf("save assistant message: %w", err)
		}
	}

	var conversationID int64
	if conversation != nil {
		conversationID = conversation.ID
	}

	if err := s.usage.Record(ctx, store.UsageRecord{
		UserID:         p.UserID,
		ConversationID: conversationID,
		Model:          p.Model,
		Provider:       prep.provider,
		Usage:          usage,
		Cost:           cost,
		ResponseTime:   responseTime,
	}); err != nil {
		return conversationID, fmt.Errorf("record usage: %w", err)
	}

	return conversationID, nil
}

// streamUsage prefers vendor-reported in-stream usage and falls back to
// a character-count estimate when the vendor omitted it.
func streamUsage(prep *prepared, fullContent string, reported models.Usage, ok bool) models.Usage {
	if ok {
		return reported
	}

	prompt := 0
	for _, msg := range prep.request.Messages {
		prompt += estimateTokens(msg.Content)
	}
	completion := estimateTokens(fullContent)
	return models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// estimateTokens approximates token counts at four characters per token.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// normalizeMessages validates roles and defaults missing ones to user,
// producing the canonical adapter message sequence.
func normalizeMessages(in []models.Message) ([]models.Message, error) {
	out := make([]models.Message, 0, len(in))
	for _, msg := range in {
		role := msg.Role
		if role == "" {
			role = models.RoleUser
		}
		switch role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", adapter.ErrInvalidRequest, msg.Role)
		}
		out = append(out, models.Message{Role: role, Content: msg.Content, Name: msg.Name})
	}
	return out, nil
}

// withSystemPrompt prepends the configured system prompt when the
// sequence carries no system turn of its own.
func (s *Service) withSystemPrompt(messages []models.Message) []models.Message {
	if s.opts.SystemPrompt == "" {
		return messages
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			return messages
		}
	}
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: s.opts.SystemPrompt})
	return append(out, messages...)
}

// conversationTitle derives a title from the first user message.
func conversationTitle(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser || msg.Content == "" {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) > titleLimit {
			return string(runes[:titleLimit])
		}
		return msg.Content
	}
	return "New Conversation"
}
