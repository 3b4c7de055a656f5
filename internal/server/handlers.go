package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"llmbridge/internal/chat"
	"llmbridge/internal/models"
	"llmbridge/internal/registry"
)

// defaultUserID scopes requests that carry no user identity. The
// gateway is single-tenant; callers that front it with auth can pass a
// real id instead.
const defaultUserID = 1

type chatRequest struct {
	Provider         string           `json:"provider,omitempty"`
	Model            string           `json:"model"`
	Messages         []models.Message `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	ConversationID   int64            `json:"conversation_id,omitempty"`
	SaveConversation bool             `json:"save_conversation,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	UserID           int64            `json:"user_id,omitempty"`
}

func (r chatRequest) toParams() (chat.Params, error) {
	var provider models.Provider
	if r.Provider != "" {
		p, err := models.ParseProvider(r.Provider)
		if err != nil {
			return chat.Params{}, requestError{
				Status:  http.StatusBadRequest,
				Message: err.Error(),
				Type:    "invalid_request_error",
			}
		}
		provider = p
	}

	userID := r.UserID
	if userID == 0 {
		userID = defaultUserID
	}

	return chat.Params{
		UserID:           userID,
		Provider:         provider,
		Model:            r.Model,
		Messages:         r.Messages,
		ConversationID:   r.ConversationID,
		SaveConversation: r.SaveConversation,
		Temperature:      r.Temperature,
		TopP:             r.TopP,
		FrequencyPenalty: r.FrequencyPenalty,
		PresencePenalty:  r.PresencePenalty,
		MaxTokens:        r.MaxTokens,
	}, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Stream {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "use /v1/chat/stream for streaming requests",
			Type:    "invalid_request_error",
		}
	}

	params, err := req.toParams()
	if err != nil {
		return err
	}

	result, err := s.chat.Chat(c.Request().Context(), params)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	params, err := req.toParams()
	if err != nil {
		return err
	}

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	// Headers go out with the first chunk so that failures during setup
	// still produce a regular JSON error response.
	started := false
	send := func(chunk models.StreamChunk) error {
		if !started {
			header := c.Response().Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache")
			header.Set("Connection", "keep-alive")
			c.Response().WriteHeader(http.StatusOK)
			started = true
		}
		if err := writeSSEData(writer, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	meta, err := s.chat.ChatStream(c.Request().Context(), params, send)
	if err != nil && meta == nil {
		if !started {
			return toHTTPError(err)
		}
		// Chunks already went out; terminate the stream in-band.
		_ = writeSSEData(writer, map[string]string{"type": "error", "message": "stream interrupted"})
		_ = writeSSEDone(writer)
		flusher.Flush()
		return nil
	}
	if err != nil {
		// Delivery succeeded but bookkeeping failed. The client still
		// gets a complete stream.
		slog.Error("post-stream persistence failed", "error", err)
	}

	if !started {
		header := c.Response().Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		c.Response().WriteHeader(http.StatusOK)
	}
	if err := writeSSEData(writer, meta); err != nil {
		return err
	}
	if err := writeSSEDone(writer); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleModels(c echo.Context) error {
	ctx := c.Request().Context()

	if name := c.QueryParam("provider"); name != "" {
		p, err := models.ParseProvider(name)
		if err != nil {
			return toHTTPError(fmt.Errorf("%w: %s", registry.ErrUnknownProvider, name))
		}
		a, err := s.catalog.Adapter(p, "", "")
		if err != nil {
			return toHTTPError(err)
		}
		ids, err := a.Models(ctx)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, map[string]any{"provider": p, "models": ids})
	}

	catalog := make(map[models.Provider][]string)
	for _, p := range s.catalog.Providers() {
		a, err := s.catalog.Adapter(p, "", "")
		if err != nil {
			// Unconfigured providers are simply absent from the listing.
			if errors.Is(err, registry.ErrMissingCredentials) {
				continue
			}
			return toHTTPError(err)
		}
		ids, err := a.Models(ctx)
		if err != nil {
			slog.Warn("model listing failed", "provider", p, "error", err)
			continue
		}
		catalog[p] = ids
	}
	return c.JSON(http.StatusOK, map[string]any{"models": catalog})
}

func (s *Server) handleListConversations(c echo.Context) error {
	userID := queryInt64(c, "user_id", defaultUserID)
	limit := int(queryInt64(c, "limit", 0))
	offset := int(queryInt64(c, "offset", 0))

	conversations, err := s.conversations.List(c.Request().Context(), userID, offset, limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	userID := queryInt64(c, "user_id", defaultUserID)

	ctx := c.Request().Context()
	conversation, err := s.conversations.Get(ctx, id, userID)
	if err != nil {
		return toHTTPError(err)
	}
	turns, err := s.conversations.Messages(ctx, conversation.ID, 0)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation": conversation,
		"messages":     turns,
	})
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	userID := queryInt64(c, "user_id", defaultUserID)

	if err := s.conversations.Delete(c.Request().Context(), id, userID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, requestError{
			Status:  http.StatusBadRequest,
			Message: "conversation id must be a positive integer",
			Type:    "invalid_request_error",
		}
	}
	return id, nil
}

func queryInt64(c echo.Context, name string, fallback int64) int64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func writeSSEDone(w io.Writer) error {
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	return nil
}
