package openaiwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llmbridge/internal/adapter"
	"llmbridge/internal/models"
	"llmbridge/internal/sse"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "llmbridge/0.1"

	// Non-2xx bodies are kept for diagnostics but never unbounded.
	maxErrorBodyBytes = 64 * 1024
)

var errNoChoices = errors.New("response did not include choices")

// Client speaks the OpenAI-compatible HTTP surface for one vendor
// endpoint. It is safe for concurrent use.
type Client struct {
	provider models.Provider
	apiKey   string
	baseURL  string
	http     *http.Client
	stream   *http.Client
}

// NewClient builds a client for the given endpoint. A nil httpClient
// falls back to http.DefaultClient.
//
// httpClient.Timeout caps the total duration of blocking calls only.
// Streaming calls share the same transport but carry no total cap: a
// long generation can legitimately outlast any fixed timeout, so the
// connect and header bounds must live on the transport.
func NewClient(provider models.Provider, apiKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		stream:   &http.Client{Transport: httpClient.Transport},
	}
}

// Chat issues a blocking completion call.
func (c *Client) Chat(ctx context.Context, payload ChatPayload) (*ChatResponse, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat request failed: %w", c.provider, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.upstreamError(httpResp)
	}

	var resp ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		// A 2xx with an undecodable body is still the vendor's fault.
		return nil, &adapter.UpstreamError{
			Provider:   c.provider,
			StatusCode: httpResp.StatusCode,
			Body:       fmt.Sprintf("malformed response body: %v", err),
		}
	}
	return &resp, nil
}

// OpenStream issues the streaming variant and hands the open body to an
// SSE decoder. The returned stream owns the connection.
func (c *Client) OpenStream(ctx context.Context, payload ChatPayload) (*adapter.Stream, error) {
	payload.Stream = true

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream request failed: %w", c.provider, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, c.upstreamError(httpResp)
	}

	return adapter.NewStream(sse.NewDecoder(httpResp.Body), httpResp.Body), nil
}

// ListModels fetches the live model catalogue from GET {base}/models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s model list request failed: %w", c.provider, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.upstreamError(httpResp)
	}

	var list modelList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode %s model list: %w", c.provider, err)
	}

	ids := make([]string, 0, len(list.Data))
	for _, entry := range list.Data {
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// CloseIdle drops pooled connections held by the underlying transport.
func (c *Client) CloseIdle() {
	c.http.CloseIdleConnections()
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// upstreamError reads a bounded copy of the body and prefers the vendor
// error envelope message when one is present.
func (c *Client) upstreamError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &adapter.UpstreamError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("failed to read error body: %v", err),
		}
	}

	message := strings.TrimSpace(string(body))
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		if envelope.Error.Type != "" {
			message = envelope.Error.Type + ": " + message
		}
	}

	return &adapter.UpstreamError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Body:       message,
	}
}
