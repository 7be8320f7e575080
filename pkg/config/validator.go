package config

import (
	"fmt"
	"net/url"
	"os"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateSelector(); err != nil {
		return fmt.Errorf("selector validation failed: %w", err)
	}

	if err := v.validateEditor(); err != nil {
		return fmt.Errorf("editor validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", q.MaxConcurrentSessions)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive, got %v", q.SessionTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", q.OrphanDetectionInterval)
	}
	if q.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive, got %v", q.OrphanThreshold)
	}
	if q.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", q.HeartbeatInterval)
	}
	if q.HeartbeatInterval >= q.OrphanThreshold {
		return fmt.Errorf("heartbeat_interval must be less than orphan_threshold to prevent false orphan detection, got heartbeat=%v threshold=%v", q.HeartbeatInterval, q.OrphanThreshold)
	}

	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}

	if s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", s.MaxIterations)
	}
	if s.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be at least 1, got %d", s.MaxDepth)
	}
	if s.MaxDuration < 0 {
		return fmt.Errorf("max_duration must be non-negative, got %v", s.MaxDuration)
	}
	if s.MaxFinishedNodes < 0 {
		return fmt.Errorf("max_finished_nodes must be non-negative, got %d", s.MaxFinishedNodes)
	}
	if s.MinFinishedNodes < 0 {
		return fmt.Errorf("min_finished_nodes must be non-negative, got %d", s.MinFinishedNodes)
	}
	if s.MaxFinishedNodes > 0 && s.MinFinishedNodes > s.MaxFinishedNodes {
		return fmt.Errorf("min_finished_nodes (%d) must not exceed max_finished_nodes (%d)", s.MinFinishedNodes, s.MaxFinishedNodes)
	}
	if s.RewardThreshold < -100 || s.RewardThreshold > 100 {
		return fmt.Errorf("reward_threshold must be in [-100, 100], got %v", s.RewardThreshold)
	}
	if s.CheckpointDir == "" {
		return fmt.Errorf("checkpoint_dir is required")
	}

	return nil
}

func (v *Validator) validateSelector() error {
	s := v.cfg.Selector
	if s == nil {
		return fmt.Errorf("selector configuration is nil")
	}

	if s.HighValueThreshold < s.LowValueThreshold {
		return fmt.Errorf("high_value_threshold (%v) must be >= low_value_threshold (%v)", s.HighValueThreshold, s.LowValueThreshold)
	}
	if s.VeryHighValueThreshold < s.HighValueThreshold {
		return fmt.Errorf("very_high_value_threshold (%v) must be >= high_value_threshold (%v)", s.VeryHighValueThreshold, s.HighValueThreshold)
	}
	for i, tool := range s.CheckForBadChildActions {
		if tool == "" {
			return fmt.Errorf("check_for_bad_child_actions[%d] is empty", i)
		}
	}

	return nil
}

func (v *Validator) validateEditor() error {
	e := v.cfg.Editor
	if e == nil {
		return fmt.Errorf("editor configuration is nil")
	}

	if e.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(e.BaseURL); err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", e.RequestTimeout)
	}

	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return nil
	}

	if r.SessionRetentionDays < 0 {
		return fmt.Errorf("session_retention_days must be non-negative, got %d", r.SessionRetentionDays)
	}
	if r.EventTTL <= 0 {
		return fmt.Errorf("event_ttl must be positive, got %v", r.EventTTL)
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %v", r.CleanupInterval)
	}

	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return nil
	}

	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", s.ShutdownTimeout)
	}
	for i, origin := range s.AllowedWSOrigins {
		if origin == "" {
			return fmt.Errorf("allowed_ws_origins[%d] is empty", i)
		}
	}

	return nil
}

func (v *Validator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("command required for stdio transport"))
			}

		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("url required for %s transport", server.Transport.Type))
			}
			if _, err := url.Parse(server.Transport.URL); err != nil {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("not a valid URL: %w", err))
			}
		}

		if server.DataMasking != nil && server.DataMasking.Enabled {
			for i, pattern := range server.DataMasking.CustomPatterns {
				if pattern.Pattern == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), fmt.Errorf("pattern required"))
				}
				if pattern.Replacement == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].replacement", i), fmt.Errorf("replacement required"))
				}
			}
		}

	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}

		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}

		if provider.BaseURL != "" {
			if _, err := url.Parse(provider.BaseURL); err != nil {
				return NewValidationError("llm_provider", name, "base_url", fmt.Errorf("not a valid URL: %w", err))
			}
		}
	}

	return nil
}
