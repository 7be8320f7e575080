package config

import "time"

// RetentionConfig controls the background cleanup loop in pkg/cleanup.
type RetentionConfig struct {
	// SessionRetentionDays is how many days a terminal session (and its
	// persisted search tree) stays undeleted after finishing. Cleanup
	// soft-deletes by setting deleted_at, so action_nodes/tool_calls rows
	// remain queryable for audit.
	SessionRetentionDays int `yaml:"session_retention_days"`

	// EventTTL is how long a finished session's events stay replayable
	// over the WebSocket catch-up path before being pruned. Events are
	// only useful while a client might still reconnect mid-stream, so
	// this is much shorter than the session retention window.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs both passes.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults: sessions
// kept a year for audit, events pruned within the hour, cleanup twice a
// day.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionRetentionDays: 365,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}
