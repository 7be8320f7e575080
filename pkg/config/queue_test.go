package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()

	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.MaxConcurrentSessions)
	assert.Equal(t, 1*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.PollIntervalJitter)
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 15*time.Minute, cfg.GracefulShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.OrphanDetectionInterval)
	assert.Equal(t, 5*time.Minute, cfg.OrphanThreshold)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)

	// A slow-but-alive worker must get several heartbeats in before the
	// orphan scan could reclaim its session.
	assert.Less(t, cfg.HeartbeatInterval*3, cfg.OrphanThreshold)
	// Draining on shutdown must be able to outlast the longest session.
	assert.GreaterOrEqual(t, cfg.GracefulShutdownTimeout, cfg.SessionTimeout)
}

// tweaked returns the default config with one field changed, for exercising
// a single validation rule per case.
func tweaked(mutate func(*QueueConfig)) *QueueConfig {
	q := DefaultQueueConfig()
	mutate(q)
	return q
}

func TestValidateQueue(t *testing.T) {
	tests := []struct {
		name   string
		queue  *QueueConfig
		errMsg string // empty means valid
	}{
		{name: "valid defaults", queue: DefaultQueueConfig()},
		{name: "nil queue", queue: nil, errMsg: "queue configuration is nil"},

		{name: "worker count too low", queue: tweaked(func(q *QueueConfig) { q.WorkerCount = 0 }),
			errMsg: "worker_count must be between 1 and 50"},
		{name: "worker count too high", queue: tweaked(func(q *QueueConfig) { q.WorkerCount = 51 }),
			errMsg: "worker_count must be between 1 and 50"},
		{name: "max concurrent sessions zero", queue: tweaked(func(q *QueueConfig) { q.MaxConcurrentSessions = 0 }),
			errMsg: "max_concurrent_sessions must be at least 1"},

		{name: "poll interval zero", queue: tweaked(func(q *QueueConfig) { q.PollInterval = 0 }),
			errMsg: "poll_interval must be positive"},
		{name: "negative jitter", queue: tweaked(func(q *QueueConfig) { q.PollIntervalJitter = -time.Second }),
			errMsg: "poll_interval_jitter must be non-negative"},
		{name: "zero jitter is valid", queue: tweaked(func(q *QueueConfig) { q.PollIntervalJitter = 0 })},
		{name: "jitter must stay under poll interval", queue: tweaked(func(q *QueueConfig) {
			q.PollInterval = time.Second
			q.PollIntervalJitter = time.Second
		}), errMsg: "poll_interval_jitter must be less than poll_interval"},
		{name: "jitter just under poll interval is valid", queue: tweaked(func(q *QueueConfig) {
			q.PollInterval = time.Second
			q.PollIntervalJitter = 999 * time.Millisecond
		})},

		{name: "session timeout zero", queue: tweaked(func(q *QueueConfig) { q.SessionTimeout = 0 }),
			errMsg: "session_timeout must be positive"},
		{name: "graceful shutdown timeout zero", queue: tweaked(func(q *QueueConfig) { q.GracefulShutdownTimeout = 0 }),
			errMsg: "graceful_shutdown_timeout must be positive"},

		{name: "orphan detection interval zero", queue: tweaked(func(q *QueueConfig) { q.OrphanDetectionInterval = 0 }),
			errMsg: "orphan_detection_interval must be positive"},
		{name: "orphan threshold zero", queue: tweaked(func(q *QueueConfig) { q.OrphanThreshold = 0 }),
			errMsg: "orphan_threshold must be positive"},
		{name: "heartbeat interval zero", queue: tweaked(func(q *QueueConfig) { q.HeartbeatInterval = 0 }),
			errMsg: "heartbeat_interval must be positive"},
		{name: "heartbeat must stay under orphan threshold", queue: tweaked(func(q *QueueConfig) {
			q.OrphanThreshold = time.Minute
			q.HeartbeatInterval = time.Minute
		}), errMsg: "heartbeat_interval must be less than orphan_threshold"},
		{name: "heartbeat well under orphan threshold is valid", queue: tweaked(func(q *QueueConfig) {
			q.OrphanThreshold = 5 * time.Minute
			q.HeartbeatInterval = 30 * time.Second
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator(&Config{Queue: tt.queue}).validateQueue()

			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
