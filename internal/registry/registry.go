// Package registry owns adapter construction, credential binding, and
// instance reuse.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"llmbridge/internal/adapter"
	"llmbridge/internal/adapter/aliyuncs"
	"llmbridge/internal/adapter/deepseek"
	"llmbridge/internal/adapter/doubao"
	"llmbridge/internal/adapter/openai"
	"llmbridge/internal/adapter/siliconflow"
	"llmbridge/internal/config"
	"llmbridge/internal/models"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// ErrUnknownProvider indicates the provider has no registered constructor.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrMissingCredentials indicates no API key was supplied and none is
// configured as the provider default.
var ErrMissingCredentials = errors.New("missing provider credentials")

// Constructor builds a fresh adapter for one credential pair.
type Constructor func(apiKey, baseURL string, client *http.Client) adapter.Adapter

// instanceKey is the identity tuple for adapter reuse.
type instanceKey struct {
	provider models.Provider
	apiKey   string
	baseURL  string
}

// Registry resolves a provider identity to a live adapter. Instances are
// created once per (provider, api_key, base_url) tuple and reused for the
// process lifetime, or until CloseAll.
type Registry struct {
	cfg        config.Config
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	constructors map[models.Provider]Constructor
	instances    map[instanceKey]adapter.Adapter
}

// New builds a registry with every supported vendor registered and a
// shared HTTP client bounded by the configured connect timeout.
func New(cfg config.Config) *Registry {
	r := &Registry{
		cfg:          cfg,
		httpClient:   newHTTPClient(time.Duration(cfg.Chat.ConnectTimeoutSeconds) * time.Second),
		logger:       slog.Default(),
		constructors: make(map[models.Provider]Constructor),
		instances:    make(map[instanceKey]adapter.Adapter),
	}

	r.Register(models.ProviderOpenAI, func(key, base string, client *http.Client) adapter.Adapter {
		return openai.New(key, base, client)
	})
	r.Register(models.ProviderDeepSeek, func(key, base string, client *http.Client) adapter.Adapter {
		return deepseek.New(key, base, client)
	})
	r.Register(models.ProviderSiliconFlow, func(key, base string, client *http.Client) adapter.Adapter {
		return siliconflow.New(key, base, client)
	})
	r.Register(models.ProviderAliyuncs, func(key, base string, client *http.Client) adapter.Adapter {
		return aliyuncs.New(key, base, client)
	})
	r.Register(models.ProviderDoubao, func(key, base string, client *http.Client) adapter.Adapter {
		return doubao.New(key, base, client)
	})

	return r
}

// Register installs or replaces the constructor for a provider.
func (r *Registry) Register(p models.Provider, construct Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[p] = construct
	r.logger.Info("registered adapter", "provider", p)
}

// Adapter resolves an adapter for the provider. An empty apiKey falls
// back to the configured default credential; an empty baseURL falls back
// to the configured override, then the vendor default. Identical
// argument tuples return the identical instance.
func (r *Registry) Adapter(p models.Provider, apiKey, baseURL string) (adapter.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	construct, ok := r.constructors[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	if apiKey == "" || baseURL == "" {
		creds, _ := r.cfg.Credentials(p)
		if apiKey == "" {
			apiKey = creds.APIKey
		}
		if baseURL == "" {
			baseURL = creds.BaseURL
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key configured for %s", ErrMissingCredentials, p)
	}

	key := instanceKey{provider: p, apiKey: apiKey, baseURL: baseURL}
	if instance, ok := r.instances[key]; ok {
		return instance, nil
	}

	instance := construct(apiKey, baseURL, r.httpClient)
	r.instances[key] = instance
	return instance, nil
}

// Providers returns every provider with a registered constructor.
func (r *Registry) Providers() []models.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Provider, 0, len(r.constructors))
	for _, p := range models.All() {
		if _, ok := r.constructors[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CloseAll tears down every cached instance's network resources and
// empties the cache. Instances must not be used afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, instance := range r.instances {
		instance.Close()
		delete(r.instances, key)
	}
}

// newHTTPClient builds the client shared by all adapter instances.
// Timeout caps blocking calls only; streaming responses bypass it and
// rely on the transport's ResponseHeaderTimeout for time to first byte.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
