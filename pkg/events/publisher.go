package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EventPublisher publishes events for WebSocket delivery.
// Persistent events are stored in the events table then broadcast via NOTIFY.
// Transient events (streaming chunks) are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see payloads.go.
// Internally, payloads are marshaled to JSON and routed to the appropriate
// channel (derived from sessionID) via persistAndNotify or notifyOnly.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// CleanupOrphanedEvents deletes events rows belonging to sessions that
// finished more than ttl ago, for pkg/cleanup's periodic retention pass.
// A WebSocket client only ever needs catch-up since the connection last
// dropped; once a session has been finished for the TTL window, no client
// is expected to still be replaying its event log.
func (p *EventPublisher) CleanupOrphanedEvents(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM events
		 WHERE session_id IN (
		     SELECT id FROM sessions
		     WHERE finished_at IS NOT NULL AND finished_at < $1
		 )`,
		time.Now().Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up orphaned events: %w", err)
	}
	return res.RowsAffected()
}

// --- Typed public methods ---

// PublishSessionStart persists a session.start event to the session channel
// and broadcasts a transient copy to the global sessions channel. Both
// publishes are best-effort; the first error encountered (if any) is
// returned.
func (p *EventPublisher) PublishSessionStart(ctx context.Context, sessionID string, payload SessionStartPayload) error {
	return p.publishWithGlobalBroadcast(ctx, sessionID, payload)
}

// PublishToolInvoked persists and broadcasts a tool.invoked event, fired
// right before the dispatcher runs the proposed action.
func (p *EventPublisher) PublishToolInvoked(ctx context.Context, sessionID string, payload ToolInvokedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolInvokedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishToolOutputDelta broadcasts a tool.output_delta transient event (no
// DB persistence). Used for high-frequency tool/LLM streaming output.
func (p *EventPublisher) PublishToolOutputDelta(ctx context.Context, sessionID string, payload ToolOutputDeltaPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolOutputDeltaPayload: %w", err)
	}
	return p.notifyOnly(ctx, SessionChannel(sessionID), payloadJSON)
}

// PublishNodeScored persists and broadcasts a node.scored event, fired once
// a node's reward has been computed.
func (p *EventPublisher) PublishNodeScored(ctx context.Context, sessionID string, payload NodeScoredPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal NodeScoredPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishCheckpointWritten persists and broadcasts a checkpoint.written
// event, fired after the scheduler persists its tree.
func (p *EventPublisher) PublishCheckpointWritten(ctx context.Context, sessionID string, payload CheckpointWrittenPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal CheckpointWrittenPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishError persists a session.error event to the session channel and
// broadcasts a transient copy to the global sessions channel.
func (p *EventPublisher) PublishError(ctx context.Context, sessionID string, payload ErrorPayload) error {
	return p.publishWithGlobalBroadcast(ctx, sessionID, payload)
}

// PublishSessionFinished persists a session.finished event to the session
// channel and broadcasts a transient copy to the global sessions channel.
// Always the last event published on a session's channel.
func (p *EventPublisher) PublishSessionFinished(ctx context.Context, sessionID string, payload SessionFinishedPayload) error {
	return p.publishWithGlobalBroadcast(ctx, sessionID, payload)
}

// PublishCancelRequest broadcasts a transient cancellation request on the
// cross-pod control channel so whichever replica holds the session trips
// its cancellation token. Never persisted: a cancel for a session nobody
// currently holds has no one left to act on it, and the session's own
// terminal event records the outcome.
func (p *EventPublisher) PublishCancelRequest(ctx context.Context, sessionID string) error {
	payloadJSON, err := json.Marshal(CancelRequestPayload{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal CancelRequestPayload: %w", err)
	}
	return p.notifyOnly(ctx, CancelRequestsChannel, payloadJSON)
}

// publishWithGlobalBroadcast persists payload to the session-specific
// channel and additionally broadcasts a transient copy to
// GlobalSessionsChannel, for the lifecycle events a session-list view cares
// about (start/error/finished). Both publishes are best-effort: if the
// persistent one fails, the transient one is still attempted.
func (p *EventPublisher) publishWithGlobalBroadcast(ctx context.Context, sessionID string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON); err != nil {
		slog.Warn("Failed to publish event to session channel", "session_id", sessionID, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalSessionsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish event to global channel", "session_id", sessionID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and broadcasts
// via NOTIFY in a single transaction (pg_notify is transactional — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, sessionID, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Persist to events table (within transaction)
	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catchup tracking.
	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	// 2. pg_notify within same transaction — held until COMMIT
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	// 3. Commit — INSERT is persisted and NOTIFY fires atomically
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		EventID   string `json:"event_id"`
		SessionID string `json:"session_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":       routing.Type,
		"event_id":   routing.EventID,
		"session_id": routing.SessionID,
		"truncated":  true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
