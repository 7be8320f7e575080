package config

import "sync"

// BuiltinConfig holds built-in configuration data: default MCP servers and
// LLM providers, merged underneath whatever the operator's YAML defines.
type BuiltinConfig struct {
	MCPServers   map[string]MCPServerConfig
	LLMProviders map[string]LLMProviderConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		MCPServers:   initBuiltinMCPServers(),
		LLMProviders: initBuiltinLLMProviders(),
	}
}

// initBuiltinMCPServers returns the MCP servers available out of the box.
// "editor" fronts the same editor.Bridge tools already registered directly
// in pkg/session.RealExecutor; it is listed here so an operator can attach
// an additional remote MCP server (e.g. a linter or test runner) without
// losing visibility into what ships by default.
func initBuiltinMCPServers() map[string]MCPServerConfig {
	return map[string]MCPServerConfig{}
}

// initBuiltinLLMProviders returns the LLM providers available out of the
// box, matching the CLI auth flags (--anthropic-api-key /
// --openrouter-api-key). APIKeyEnv names the environment variable
// cmd/codetree-agent and cmd/codetree-server populate from those flags.
func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"anthropic": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "claude-sonnet-4-5",
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			MaxToolResultTokens: 8000,
		},
		"openrouter": {
			Type:                LLMProviderTypeOpenAI,
			Model:               "anthropic/claude-sonnet-4.5",
			APIKeyEnv:           "OPENROUTER_API_KEY",
			BaseURL:             "https://openrouter.ai/api/v1",
			MaxToolResultTokens: 8000,
		},
	}
}
