package config

import "time"

// ServerConfig holds cmd/codetree-server's HTTP/WS listen settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AllowedWSOrigins is the set of Origin header patterns pkg/api accepts
	// for WebSocket upgrades (the session event stream).
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns sane defaults for local/dev use.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      ":8080",
		ShutdownTimeout: 15 * time.Second,
	}
}
