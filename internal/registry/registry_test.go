package registry

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbridge/internal/config"
	"llmbridge/internal/models"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8000},
		Chat:   config.ChatConfig{ConnectTimeoutSeconds: 5, DefaultProvider: "openai"},
		Providers: config.ProvidersConfig{
			OpenAI:   config.ProviderConfig{APIKey: "sk-test"},
			DeepSeek: config.ProviderConfig{APIKey: "sk-deep", BaseURL: "https://deepseek.example.com"},
		},
	}
}

func TestAdapter_ReturnsSameInstanceForSameTuple(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	a, err := r.Adapter(models.ProviderOpenAI, "sk-explicit", "")
	require.NoError(t, err)
	b, err := r.Adapter(models.ProviderOpenAI, "sk-explicit", "")
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestAdapter_DistinctTuplesGetDistinctInstances(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	a, err := r.Adapter(models.ProviderOpenAI, "sk-one", "")
	require.NoError(t, err)
	b, err := r.Adapter(models.ProviderOpenAI, "sk-two", "")
	require.NoError(t, err)
	c, err := r.Adapter(models.ProviderOpenAI, "sk-one", "https://proxy.example.com/v1")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, c)
}

func TestAdapter_FallsBackToConfiguredCredentials(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	fromConfig, err := r.Adapter(models.ProviderOpenAI, "", "")
	require.NoError(t, err)
	explicit, err := r.Adapter(models.ProviderOpenAI, "sk-test", "")
	require.NoError(t, err)

	// Both resolve to the same credential tuple.
	assert.Same(t, fromConfig, explicit)
}

func TestAdapter_MissingCredentials(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	_, err := r.Adapter(models.ProviderDoubao, "", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestAdapter_UnknownProvider(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	_, err := r.Adapter(models.Provider("nonexistent"), "key", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAdapter_ProviderIdentity(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	for _, p := range r.Providers() {
		a, err := r.Adapter(p, "sk-any", "")
		require.NoError(t, err)
		assert.Equal(t, p, a.Provider())
	}
}

func TestAdapter_ConcurrentAccessConstructsOnce(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	const goroutines = 32
	results := make([]any, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Adapter(models.ProviderDeepSeek, "", "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestProviders_CoversAllVendors(t *testing.T) {
	r := New(testConfig())
	defer r.CloseAll()

	assert.ElementsMatch(t, models.All(), r.Providers())
}

func TestCloseAll_DropsCachedInstances(t *testing.T) {
	r := New(testConfig())

	a, err := r.Adapter(models.ProviderOpenAI, "", "")
	require.NoError(t, err)

	r.CloseAll()

	b, err := r.Adapter(models.ProviderOpenAI, "", "")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestNewHTTPClient_Timeout(t *testing.T) {
	client := newHTTPClient(5 * time.Second)
	require.NotNil(t, client.Transport)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.ForceAttemptHTTP2)
	assert.Equal(t, 5*time.Second, client.Timeout)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
}
