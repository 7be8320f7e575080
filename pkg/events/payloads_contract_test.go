package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionChannelPayloads_ContainSessionID is a contract test between
// the Go backend and any WebSocket client.
//
// A client routes incoming WS events by inspecting `data.session_id` in the
// JSON payload. ANY payload broadcast on a session-specific channel
// (session:{id}) MUST include a non-empty `session_id` field, or a client
// subscribed to the global channel cannot tell which session it belongs to.
//
// All payload structs embed BasePayload which guarantees session_id is
// present. This test guards against:
//   - A new payload struct that forgets to embed BasePayload
//   - A call site that forgets to populate BasePayload.SessionID
func TestSessionChannelPayloads_ContainSessionID(t *testing.T) {
	const testSessionID = "sess-contract-test"

	tests := []struct {
		name    string
		payload any
	}{
		{
			name: "SessionStartPayload",
			payload: SessionStartPayload{
				BasePayload: BasePayload{
					Type:      EventTypeSessionStart,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				RunID:    "run-1",
				RepoName: "example/repo",
			},
		},
		{
			name: "ToolInvokedPayload",
			payload: ToolInvokedPayload{
				BasePayload: BasePayload{
					Type:      EventTypeToolInvoked,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				NodeIndex:  1,
				ActionType: "edit_file",
			},
		},
		{
			name: "ToolOutputDeltaPayload",
			payload: ToolOutputDeltaPayload{
				BasePayload: BasePayload{
					Type:      EventTypeToolOutputDelta,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				NodeIndex: 1,
				Delta:     "token",
			},
		},
		{
			name: "NodeScoredPayload",
			payload: NodeScoredPayload{
				BasePayload: BasePayload{
					Type:      EventTypeNodeScored,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				NodeIndex:   1,
				RewardValue: 70,
			},
		},
		{
			name: "CheckpointWrittenPayload",
			payload: CheckpointWrittenPayload{
				BasePayload: BasePayload{
					Type:      EventTypeCheckpointWritten,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				NodeCount:  3,
				Iterations: 3,
			},
		},
		{
			name: "ErrorPayload",
			payload: ErrorPayload{
				BasePayload: BasePayload{
					Type:      EventTypeSessionError,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				Category: "llm",
				Message:  "provider returned 429",
			},
		},
		{
			name: "SessionFinishedPayload",
			payload: SessionFinishedPayload{
				BasePayload: BasePayload{
					Type:      EventTypeSessionFinished,
					SessionID: testSessionID,
					Timestamp: "2026-01-01T00:00:00Z",
				},
				Status: "completed",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err, "failed to marshal %s", tt.name)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal(data, &parsed), "failed to unmarshal %s", tt.name)

			sid, ok := parsed["session_id"]
			assert.True(t, ok,
				"%s JSON is missing \"session_id\" field — a client listening on the global channel cannot route this event", tt.name)
			assert.Equal(t, testSessionID, sid,
				"%s session_id has wrong value", tt.name)
		})
	}
}
