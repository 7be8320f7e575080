package events

// BasePayload is embedded by every payload struct below, guaranteeing
// type/session_id are always present on the wire regardless of which event
// fired — payloads_contract_test.go enforces this by reflection.
type BasePayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// SessionStartPayload is the payload for session.start events. Published
// once, when the session service claims a session and begins running
// its scheduler.
type SessionStartPayload struct {
	BasePayload
	RunID       string `json:"run_id"`
	RepoName    string `json:"repo_name"`
	Instruction string `json:"instruction"`
	ModelName   string `json:"model_name"`
}

// ToolInvokedPayload is the payload for tool.invoked events. Published once
// per expanded node, right before the tool dispatcher runs the proposed
// action, so a client can show "running X" before the observation arrives.
type ToolInvokedPayload struct {
	BasePayload
	NodeIndex     uint32 `json:"node_index"`
	ParentIndex   uint32 `json:"parent_index"`
	ActionType    string `json:"action_type"`
	ActionSummary string `json:"action_summary"`
}

// ToolOutputDeltaPayload is the payload for tool.output_delta transient
// events — high-frequency streaming output from the tool-use agent or a
// long-running tool, not persisted (the eventual node.scored event carries
// the full observation).
type ToolOutputDeltaPayload struct {
	BasePayload
	NodeIndex uint32 `json:"node_index"`
	Delta     string `json:"delta"`
}

// NodeScoredPayload is the payload for node.scored events. Published once
// per expanded node, after the reward generator scores it.
type NodeScoredPayload struct {
	BasePayload
	NodeIndex   uint32  `json:"node_index"`
	RewardValue float64 `json:"reward_value"`
	Explanation string  `json:"explanation,omitempty"`
	IsFinished  bool    `json:"is_finished"`
}

// CheckpointWrittenPayload is the payload for checkpoint.written events.
// Published whenever the scheduler persists its tree, so a client watching
// a long session knows its progress survives a reconnect.
type CheckpointWrittenPayload struct {
	BasePayload
	NodeCount  int `json:"node_count"`
	Iterations int `json:"iterations"`
}

// ErrorPayload is the payload for session.error events. Published for both
// recovered errors (a tool/LLM failure scored and folded back into the
// search) and the fatal error that precedes a session.finished{status:
// failed} event.
type ErrorPayload struct {
	BasePayload
	NodeIndex *uint32 `json:"node_index,omitempty"` // nil for session-level errors
	Category  string  `json:"category"`             // e.g. "unauthorized", "rate_limited", "editor_unreachable"
	Message   string  `json:"message"`
	Fatal     bool    `json:"fatal"`
}

// SessionFinishedPayload is the payload for session.finished events — always
// the last event on a session's channel.
type SessionFinishedPayload struct {
	BasePayload
	Status     string  `json:"status"` // completed, cancelled, timed_out, failed
	FinalDiff  string  `json:"final_diff,omitempty"`
	Reward     float64 `json:"reward"`
	Iterations int     `json:"iterations"`
}
