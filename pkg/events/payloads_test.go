package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStartPayload(t *testing.T) {
	payload := SessionStartPayload{
		BasePayload: BasePayload{
			Type:      EventTypeSessionStart,
			SessionID: "session-abc",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		RunID:       "run-1",
		RepoName:    "example/repo",
		Instruction: "fix the failing test",
		ModelName:   "claude-opus",
	}

	assert.Equal(t, EventTypeSessionStart, payload.Type)
	assert.Equal(t, "session-abc", payload.SessionID)
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, "example/repo", payload.RepoName)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestToolInvokedPayload(t *testing.T) {
	payload := ToolInvokedPayload{
		BasePayload: BasePayload{
			Type:      EventTypeToolInvoked,
			SessionID: "session-abc",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		NodeIndex:     3,
		ParentIndex:   1,
		ActionType:    "edit_file",
		ActionSummary: "editing pkg/scheduler/scheduler.go",
	}

	assert.Equal(t, EventTypeToolInvoked, payload.Type)
	assert.Equal(t, uint32(3), payload.NodeIndex)
	assert.Equal(t, uint32(1), payload.ParentIndex)
	assert.Equal(t, "edit_file", payload.ActionType)
	assert.NotEmpty(t, payload.ActionSummary)
}

func TestToolOutputDeltaPayload(t *testing.T) {
	chunks := []string{"The ", "fix ", "is ", "ready."}

	var payloads []ToolOutputDeltaPayload
	for _, delta := range chunks {
		payloads = append(payloads, ToolOutputDeltaPayload{
			BasePayload: BasePayload{
				Type:      EventTypeToolOutputDelta,
				SessionID: "session-xyz",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			NodeIndex: 2,
			Delta:     delta,
		})
	}

	assert.Len(t, payloads, 4)
	assert.Equal(t, "The ", payloads[0].Delta)
	assert.Equal(t, "ready.", payloads[3].Delta)
}

func TestNodeScoredPayload(t *testing.T) {
	t.Run("finished node carries an explanation", func(t *testing.T) {
		payload := NodeScoredPayload{
			BasePayload: BasePayload{
				Type:      EventTypeNodeScored,
				SessionID: "session-abc",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			NodeIndex:   4,
			RewardValue: 85,
			Explanation: "tests pass, diff is minimal",
			IsFinished:  true,
		}

		assert.True(t, payload.IsFinished)
		assert.Equal(t, 85.0, payload.RewardValue)
		assert.NotEmpty(t, payload.Explanation)
	})

	t.Run("error path scores at the floor", func(t *testing.T) {
		payload := NodeScoredPayload{
			BasePayload: BasePayload{
				Type:      EventTypeNodeScored,
				SessionID: "session-abc",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			NodeIndex:   5,
			RewardValue: -100,
			Explanation: "tool dispatch error: unknown tool",
		}

		assert.Equal(t, -100.0, payload.RewardValue)
	})
}

func TestCheckpointWrittenPayload(t *testing.T) {
	payload := CheckpointWrittenPayload{
		BasePayload: BasePayload{
			Type:      EventTypeCheckpointWritten,
			SessionID: "session-abc",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		NodeCount:  12,
		Iterations: 7,
	}

	assert.Equal(t, 12, payload.NodeCount)
	assert.Equal(t, 7, payload.Iterations)
}

func TestErrorPayload(t *testing.T) {
	t.Run("fatal error with a node reference", func(t *testing.T) {
		idx := uint32(6)
		payload := ErrorPayload{
			BasePayload: BasePayload{
				Type:      EventTypeSessionError,
				SessionID: "session-abc",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			NodeIndex: &idx,
			Category:  "llm",
			Message:   "provider returned 429",
			Fatal:     true,
		}

		assert.True(t, payload.Fatal)
		require.NotNil(t, payload.NodeIndex)
		assert.Equal(t, uint32(6), *payload.NodeIndex)
	})

	t.Run("non-fatal error has no node reference", func(t *testing.T) {
		payload := ErrorPayload{
			BasePayload: BasePayload{
				Type:      EventTypeSessionError,
				SessionID: "session-abc",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			Category: "tool",
			Message:  "transient dispatch failure",
			Fatal:    false,
		}

		assert.Nil(t, payload.NodeIndex)
		assert.False(t, payload.Fatal)
	})
}

func TestSessionFinishedPayload(t *testing.T) {
	payload := SessionFinishedPayload{
		BasePayload: BasePayload{
			Type:      EventTypeSessionFinished,
			SessionID: "session-abc",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		Status:     "completed",
		FinalDiff:  "diff --git a/main.go b/main.go\n...",
		Reward:     92,
		Iterations: 15,
	}

	assert.Equal(t, "completed", payload.Status)
	assert.Equal(t, 92.0, payload.Reward)
	assert.NotEmpty(t, payload.FinalDiff)
}
