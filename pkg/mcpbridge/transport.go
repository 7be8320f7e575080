package mcpbridge

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func createTransport(cfg ServerConfig) (mcpsdk.Transport, error) {
	switch {
	case cfg.Command != "":
		return createStdioTransport(cfg)
	case cfg.URL != "":
		return createHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("server %q has neither command nor url configured", cfg.Name)
	}
}

func createStdioTransport(cfg ServerConfig) (*mcpsdk.CommandTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg ServerConfig) (*mcpsdk.StreamableClientTransport, error) {
	transport := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	if cfg.BearerToken != "" {
		transport.HTTPClient = &http.Client{
			Transport: &bearerTokenTransport{base: http.DefaultTransport, token: cfg.BearerToken},
			Timeout:   60 * time.Second,
		}
	}
	return transport, nil
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
