// Package llm is a provider-agnostic client for external text-generation
// models, with retry, timeout, and transient/fatal error classification.
package llm

import (
	"net/http"
	"sync"
)

// Provider adapts the client to one model API's wire format.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// BuildURL constructs the completion endpoint from a base URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers, including authentication.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody encodes the prompt for this provider.
	BuildRequestBody(model, systemPrompt, userPrompt string, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the generated text from a provider response.
	ParseResponse(body []byte) (*Response, error)
}

var (
	providerMu       sync.RWMutex
	providerRegistry = make(map[string]Provider)
)

// RegisterProvider adds a provider to the registry. Providers register
// themselves from init so importing the providers package is enough.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a registered provider, or nil.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}
