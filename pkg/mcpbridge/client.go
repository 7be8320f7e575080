// Package mcpbridge wraps the MCP SDK client for the agent's "mcp_tool"
// action: connect-on-demand sessions to configured MCP servers, cached tool
// listings, and a retry-with-session-recreation recovery path on transport
// failure. One agent run owns one Client for its lifetime; calls carry a
// server name, a tool name, and JSON args.
package mcpbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencodetree/codetree/pkg/version"
)

// ServerConfig describes one configured MCP server. Exactly one of Command
// (stdio transport) or URL (streamable-HTTP transport) must be set.
// Instructions, when present, are shown to the model alongside the server
// name so it knows what the server is for.
type ServerConfig struct {
	Name         string
	Command      string
	Args         []string
	Env          map[string]string
	URL          string
	BearerToken  string
	Instructions string
}

// Registry is a name-keyed set of server configs.
type Registry struct {
	servers map[string]ServerConfig
}

func NewRegistry(servers ...ServerConfig) *Registry {
	r := &Registry{servers: make(map[string]ServerConfig, len(servers))}
	for _, s := range servers {
		r.servers[s.Name] = s
	}
	return r
}

func (r *Registry) Get(name string) (ServerConfig, bool) {
	s, ok := r.servers[name]
	return s, ok
}

// All returns every configured server sorted by name, for stable listings
// (the tool catalog shown to the model is rebuilt per prompt).
func (r *Registry) All() []ServerConfig {
	out := make([]ServerConfig, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Client manages MCP SDK sessions for every configured server, connecting
// lazily on first use and recovering transport failures by recreating the
// session once before giving up.
type Client struct {
	registry *Registry

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	reinitMu sync.Map // serverName -> *sync.Mutex

	logger *slog.Logger
}

func NewClient(registry *Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		registry:  registry,
		sessions:  make(map[string]*mcpsdk.ClientSession),
		toolCache: make(map[string][]*mcpsdk.Tool),
		logger:    logger,
	}
}

// Servers lists the configured servers this client can reach, sorted by
// name.
func (c *Client) Servers() []ServerConfig {
	return c.registry.All()
}

func (c *Client) ensureSession(ctx context.Context, serverName string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	if s, ok := c.sessions[serverName]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	muI, _ := c.reinitMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.connectLocked(ctx, serverName)
}

func (c *Client) connectLocked(ctx context.Context, serverName string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	if s, ok := c.sessions[serverName]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	cfg, ok := c.registry.Get(serverName)
	if !ok {
		return nil, fmt.Errorf("mcpbridge: server %q not configured", serverName)
	}

	transport, err := createTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: transport for %q: %w", serverName, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("mcpbridge: connect %q: %w", serverName, err)
	}

	c.mu.Lock()
	c.sessions[serverName] = session
	c.mu.Unlock()

	c.logger.Info("mcp server connected", "server", serverName)
	return session, nil
}

// ListTools returns the tool catalog for serverName, using the cache once
// populated.
func (c *Client) ListTools(ctx context.Context, serverName string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverName]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.ensureSession(ctx, serverName)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: list tools from %q: %w", serverName, err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}

	c.toolCacheMu.Lock()
	c.toolCache[serverName] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// CallTool invokes toolName on serverName with args, retrying once (with a
// fresh session) on a recoverable transport failure.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := c.callOnce(ctx, serverName, params)
	if err == nil {
		return result, nil
	}

	if ClassifyError(err) != RetryNewSession {
		return nil, err
	}

	c.logger.Info("mcp call failed, retrying with new session", "server", serverName, "tool", toolName, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.recreateSession(ctx, serverName); err != nil {
		return nil, fmt.Errorf("mcpbridge: session recreation failed for %q: %w", serverName, err)
	}

	result, err = c.callOnce(ctx, serverName, params)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: retry failed for %q.%s: %w", serverName, toolName, err)
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, serverName string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.ensureSession(ctx, serverName)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (c *Client) recreateSession(ctx context.Context, serverName string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if s, ok := c.sessions[serverName]; ok {
		_ = s.Close()
		delete(c.sessions, serverName)
	}
	c.mu.Unlock()

	c.toolCacheMu.Lock()
	delete(c.toolCache, serverName)
	c.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	_, err := c.connectLocked(reinitCtx, serverName)
	return err
}

// Close shuts down every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, s := range c.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpbridge: close %q: %w", name, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}
