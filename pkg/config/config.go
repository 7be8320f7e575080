// Package config provides configuration management for codetree, including
// scheduler/selector tuning, editor bridge addressing, MCP server wiring,
// and LLM provider configuration.
package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary object
// returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Scheduler *SchedulerConfig
	Selector  *SelectorConfig
	Editor    *EditorConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Server    *ServerConfig

	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	MCPServers   int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		MCPServers:   len(c.MCPServerRegistry.GetAll()),
		LLMProviders: len(c.LLMProviderRegistry.GetAll()),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves an MCP server configuration by ID.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
