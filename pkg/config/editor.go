package config

import "time"

// EditorConfig addresses the editor bridge process that tool
// dispatch talks to. In worker-pool/server mode each session stores its own
// editor URL (see pkg/session.Session.EditorURL); this config supplies the
// default used by cmd/codetree-agent's single-session CLI mode and the
// HTTP client timeout shared by every editor.Bridge.
type EditorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultEditorConfig returns sane defaults for local/dev use.
func DefaultEditorConfig() *EditorConfig {
	return &EditorConfig{
		BaseURL:        "http://localhost:8765",
		RequestTimeout: 30 * time.Second,
	}
}
