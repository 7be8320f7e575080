package config

import (
	"fmt"
	"sync"
)

// MCPServerConfig is one `mcp_servers:` entry in codetree.yaml: an external
// tool server the agent's mcp_tool action may call. Transport tells
// pkg/mcpbridge how to reach it; Instructions are surfaced verbatim in the
// mcp_tool catalog entry so the model knows when this server is worth
// calling; DataMasking scrubs its results before they reach a trajectory
// (see pkg/masking).
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport" validate:"required"`

	Instructions string `yaml:"instructions,omitempty"`

	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// MCPServerRegistry holds the configured MCP servers, keyed by the id the
// agent uses as the mcp_tool action's server_name. Reads are concurrent
// (every session's executor consults it); the config itself is immutable
// after Initialize.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves an MCP server configuration by id.
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns a copy of every configured server, so callers (the cmd
// wiring, the masking service) can iterate without holding the lock.
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has reports whether serverID names a configured server.
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}
