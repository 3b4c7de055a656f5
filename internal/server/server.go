package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"llmbridge/internal/adapter"
	"llmbridge/internal/chat"
	"llmbridge/internal/config"
	"llmbridge/internal/models"
	"llmbridge/internal/registry"
	"llmbridge/internal/store"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Catalog exposes the provider inventory the discovery endpoints need.
// The registry satisfies it.
type Catalog interface {
	Providers() []models.Provider
	Adapter(p models.Provider, apiKey, baseURL string) (adapter.Adapter, error)
}

type Server struct {
	cfg           config.Config
	chat          *chat.Service
	catalog       Catalog
	conversations store.ConversationStore
	app           *echo.Echo
	address       string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, svc *chat.Service, catalog Catalog, conversations store.ConversationStore) (*Server, error) {
	if svc == nil {
		return nil, errors.New("chat service must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("catalog must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:           cfg,
		chat:          svc,
		catalog:       catalog,
		conversations: conversations,
		app:           e,
		address:       fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// No WriteTimeout: streaming responses stay open for as long as
		// the upstream keeps producing chunks.
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/chat/completions", s.handleChat)
	s.app.POST("/v1/chat/stream", s.handleChatStream)
	s.app.GET("/v1/models", s.handleModels)
	s.app.GET("/v1/conversations", s.handleListConversations)
	s.app.GET("/v1/conversations/:id", s.handleGetConversation)
	s.app.DELETE("/v1/conversations/:id", s.handleDeleteConversation)
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func gatewayErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	// Routing errors from echo (404, 405) arrive as *echo.HTTPError.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprintf("%v", he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps domain errors onto the JSON error envelope.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, adapter.ErrInvalidRequest) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, registry.ErrUnknownProvider) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "conversation not found",
			Type:    "not_found_error",
		}
	}
	if errors.Is(err, registry.ErrMissingCredentials) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: err.Error(),
			Type:    "configuration_error",
		}
	}

	var upstream *adapter.UpstreamError
	if errors.As(err, &upstream) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: upstream.Error(),
			Type:    "upstream_error",
			Code:    string(upstream.Provider),
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("llmbridge ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET    /health")
	fmt.Println("  POST   /v1/chat/completions")
	fmt.Println("  POST   /v1/chat/stream")
	fmt.Println("  GET    /v1/models")
	fmt.Println("  GET    /v1/conversations")
	fmt.Println("  GET    /v1/conversations/:id")
	fmt.Println("  DELETE /v1/conversations/:id")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":\"gpt-3.5-turbo\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
