package config

import (
	"fmt"
	"sync"
)

// LLMProviderConfig is one named provider entry. The name it is registered
// under is what sessions reference via their model_name field; Type picks
// the pkg/llmbroker client the entry binds to at broker construction.
type LLMProviderConfig struct {
	Type  LLMProviderType `yaml:"type" validate:"required"`
	Model string          `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the key; the key
	// itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the client's default endpoint, for
	// OpenAI-compatible gateways (OpenRouter, Fireworks, Together, a local
	// Ollama) served under a different host.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxToolResultTokens bounds how much of each tool observation is
	// replayed into this provider's prompts (the tool-use agent truncates
	// trajectory digests to roughly this many tokens per step).
	MaxToolResultTokens int `yaml:"max_tool_result_tokens" validate:"required,min=1000"`
}

// LLMProviderRegistry holds the named provider entries loaded from config.
// Reads vastly outnumber the one-time population, hence the RWMutex.
type LLMProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]*LLMProviderConfig
}

// NewLLMProviderRegistry copies providers into a fresh registry so later
// mutation of the caller's map cannot bypass the lock.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for name, p := range providers {
		copied[name] = p
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get returns the provider registered under name, or ErrLLMProviderNotFound.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return p, nil
}

// GetAll returns a copy of the provider map.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*LLMProviderConfig, len(r.providers))
	for name, p := range r.providers {
		out[name] = p
	}
	return out
}

// Has reports whether a provider is registered under name.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Len returns the number of registered providers.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
