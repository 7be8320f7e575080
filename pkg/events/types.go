// Package events delivers session search-progress events to UI clients over
// WebSocket, using PostgreSQL as the durable log and pg_notify/LISTEN for
// cross-pod fan-out: events are persisted and notified in one transaction,
// so a WebSocket client can always catch up from the durable log after a
// reconnect without missing or double-seeing an event.
//
// ════════════════════════════════════════════════════════════════
// Event set
// ════════════════════════════════════════════════════════════════
//
// A session emits, in order:
//
//	session.start        once, when the Session Service claims the session
//	tool.invoked         once per expanded node, before the tool runs
//	tool.output_delta    zero or more times per node (transient, not persisted)
//	node.scored          once per expanded node, after scoring
//	checkpoint.written   after every tree checkpoint
//	session.error        zero or more times, on a recovered or fatal error
//	session.finished     once, terminal — always the last event on a channel
//
// session.start/session.finished/session.error are also broadcast (transient,
// unpersisted) to GlobalSessionsChannel so a session-list view can update
// without subscribing to every individual session channel.
package events

import "strings"

// Persistent event types (stored in the events table + NOTIFY).
const (
	EventTypeSessionStart      = "session.start"
	EventTypeToolInvoked       = "tool.invoked"
	EventTypeNodeScored        = "node.scored"
	EventTypeCheckpointWritten = "checkpoint.written"
	EventTypeSessionError      = "session.error"
	EventTypeSessionFinished   = "session.finished"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// EventTypeToolOutputDelta carries high-frequency tool/LLM streaming
	// output — ephemeral, lost on reconnect (the eventual node.scored event
	// carries the full observation).
	EventTypeToolOutputDelta = "tool.output_delta"
)

// GlobalSessionsChannel is the channel for session-list-level events (start,
// finished, error broadcasts). A session list view subscribes to this for
// real-time updates without tracking individual session channels.
const GlobalSessionsChannel = "sessions"

// CancelRequestsChannel is the cross-pod control channel: a cancel request
// for a session is broadcast here so whichever replica currently holds the
// session trips its cancellation token. Backend-only — clients cannot
// subscribe to it (see SubscribableChannel).
const CancelRequestsChannel = "session_cancel_requests"

// CancelRequestPayload is the NOTIFY payload on CancelRequestsChannel.
type CancelRequestPayload struct {
	SessionID string `json:"session_id"`
}

const sessionChannelPrefix = "session:"

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return sessionChannelPrefix + sessionID
}

// SessionIDFromChannel returns the session id embedded in a per-session
// channel name, or "" if ch is not one.
func SessionIDFromChannel(ch string) string {
	id, ok := strings.CutPrefix(ch, sessionChannelPrefix)
	if !ok {
		return ""
	}
	return id
}

// SubscribableChannel reports whether a WebSocket client may subscribe to
// ch: the global sessions channel or a well-formed per-session channel.
// Anything else (the cancel control channel, an arbitrary string) would
// make this replica LISTEN on a PostgreSQL channel of the client's
// choosing, so it is refused.
func SubscribableChannel(ch string) bool {
	return ch == GlobalSessionsChannel || SessionIDFromChannel(ch) != ""
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "session:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
