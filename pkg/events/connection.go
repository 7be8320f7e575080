package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"
)

// Connection is one WebSocket client attached to this replica.
//
// subscriptions is touched without a lock: every read and write happens on
// the goroutine running HandleConnection's read loop (including its
// deferred cleanup). Mutating a Connection from anywhere else requires
// adding a mutex first.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	allowed       map[string]bool // nil = any subscribable channel
	ctx           context.Context
	cancel        context.CancelFunc
}

// mayUse reports whether the connection is entitled to channel: the name
// must be well-formed and, when an allowed set was supplied at upgrade
// time, inside it.
func (c *Connection) mayUse(channel string) bool {
	if !SubscribableChannel(channel) {
		return false
	}
	return c.allowed == nil || c.allowed[channel]
}

// push writes raw bytes to the client, bounded by the manager's write
// timeout.
func (m *ConnectionManager) push(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// reply marshals v and pushes it, logging rather than propagating failures
// — a client that cannot be written to will fall out of the read loop on
// its own.
func (m *ConnectionManager) reply(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("events: marshal websocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.push(c, data); err != nil {
		slog.Warn("events: write websocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) replyError(c *Connection, message string) {
	m.reply(c, map[string]string{"type": "error", "message": message})
}

func (m *ConnectionManager) replySubscriptionError(c *Connection, channel, message string) {
	m.reply(c, map[string]string{
		"type":    "subscription.error",
		"channel": channel,
		"message": message,
	})
}

// dispatch routes one parsed client message.
func (m *ConnectionManager) dispatch(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		m.onSubscribe(ctx, c, msg.Channel)
	case "unsubscribe":
		if msg.Channel == "" {
			m.replyError(c, "channel is required for unsubscribe")
			return
		}
		m.unsubscribe(c, msg.Channel)
	case "catchup":
		m.onCatchup(ctx, c, msg)
	case "ping":
		m.reply(c, map[string]string{"type": "pong"})
	}
}

func (m *ConnectionManager) onSubscribe(ctx context.Context, c *Connection, channel string) {
	if channel == "" {
		m.replyError(c, "channel is required for subscribe")
		return
	}
	if !c.mayUse(channel) {
		m.replySubscriptionError(c, channel, "channel not permitted for this connection")
		return
	}
	if err := m.subscribe(c, channel); err != nil {
		m.replySubscriptionError(c, channel, "failed to subscribe to channel")
		return
	}
	m.reply(c, map[string]string{
		"type":    "subscription.confirmed",
		"channel": channel,
	})
	// Replay everything already published so a late subscriber starts
	// from a complete view.
	m.replayMissed(ctx, c, channel, 0)
}

func (m *ConnectionManager) onCatchup(ctx context.Context, c *Connection, msg *ClientMessage) {
	if msg.Channel == "" {
		m.replyError(c, "channel is required for catchup")
		return
	}
	if !c.mayUse(msg.Channel) {
		m.replySubscriptionError(c, msg.Channel, "channel not permitted for this connection")
		return
	}
	if msg.LastEventID != nil {
		m.replayMissed(ctx, c, msg.Channel, *msg.LastEventID)
	}
}
