package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/opencodetree/codetree/pkg/version"
)

// catchupLimit caps one catch-up replay. A client further behind than this
// gets a catchup.overflow message and is expected to reload over REST
// rather than paginate.
const catchupLimit = 200

// listenTimeout bounds how long a LISTEN may block while a client
// subscribes; a stalled control connection must not wedge the client's
// read loop.
const listenTimeout = 10 * time.Second

// CatchupEvent is one stored event row replayed during catch-up.
type CatchupEvent struct {
	ID      int
	Payload map[string]interface{}
}

// CatchupQuerier serves catch-up reads. SQLCatchupQuerier implements it
// against the events table.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// ConnectionManager owns this replica's WebSocket clients and their
// channel subscriptions. Search progress published via pg_notify reaches
// clients through Broadcast; the first subscriber on a channel triggers a
// LISTEN on the shared NotifyListener, the last one leaving triggers an
// UNLISTEN.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel -> connection IDs

	catchupQuerier CatchupQuerier

	listenerMu sync.RWMutex
	listener   *NotifyListener

	writeTimeout time.Duration
}

func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// SetListener wires the NotifyListener in after construction — the two
// reference each other, so one side has to be attached late.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

func (m *ConnectionManager) currentListener() *NotifyListener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// HandleConnection runs a client's whole lifecycle and blocks until the
// socket closes. The WebSocket HTTP handler calls it right after upgrade.
//
// allowedChannels scopes what the client may subscribe to. pkg/api passes
// the authenticated session's channel plus the global sessions channel,
// matching the reach of the bearer token it verified; with none given,
// any well-formed subscribable channel is accepted.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, allowedChannels ...string) {
	ctx, cancel := context.WithCancel(parentCtx)

	var allowed map[string]bool
	if len(allowedChannels) > 0 {
		allowed = make(map[string]bool, len(allowedChannels))
		for _, ch := range allowedChannels {
			allowed[ch] = true
		}
	}

	c := &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		subscriptions: make(map[string]bool),
		allowed:       allowed,
		ctx:           ctx,
		cancel:        cancel,
	}

	m.track(c)
	defer m.drop(c)

	m.reply(c, map[string]string{
		"type":           "connection.established",
		"connection_id":  c.ID,
		"server_version": version.Full(),
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("events: invalid websocket message", "connection_id", c.ID, "error", err)
			continue
		}
		m.dispatch(ctx, c, &msg)
	}
}

// Broadcast fans event out to every connection subscribed to channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	// Resolve IDs to connections before sending: a write can take up to
	// writeTimeout, and holding mu that long would stall connect and
	// disconnect handling.
	for _, c := range m.lookup(ids) {
		if err := m.push(c, event); err != nil {
			slog.Warn("events: broadcast write failed", "connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections reports how many clients are attached, for /healthz.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount lets tests poll channel membership instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// lookup resolves connection IDs to live connections.
func (m *ConnectionManager) lookup(ids []string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// subscribe adds c to channel, issuing a synchronous LISTEN when c is the
// first subscriber. Synchronous matters: the auto catch-up that follows
// must run with LISTEN already active, or events published in between
// would be lost. A LISTEN failure is returned so the caller reports it
// instead of confirming a subscription that doesn't exist.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	first := false
	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]bool)
		first = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if first {
		if l := m.currentListener(); l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("events: LISTEN failed", "channel", channel, "error", err)
				m.evictChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// evictChannel tears a channel down after a LISTEN failure and notifies
// every subscriber other than the triggering one (which learns via the
// error return).
//
// The window between registering the channel entry and Subscribe
// completing lets other connections join the same channel; they saw it
// already existed, skipped LISTEN, and were confirmed — but no LISTEN was
// ever established for them. Such a client can observe
// subscription.confirmed → catch-up events → subscription.error; the
// error is authoritative, and the client is expected to drop what it got
// and re-subscribe or fall back to REST polling. A stale
// c.subscriptions entry may linger on evicted connections, which is
// harmless: Broadcast consults m.channels, and the removal paths tolerate
// a missing channel entry.
func (m *ConnectionManager) evictChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	evicted := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		if id != triggering.ID {
			evicted = append(evicted, id)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	for _, c := range m.lookup(evicted) {
		slog.Warn("events: removing subscriber after LISTEN failure", "connection_id", c.ID, "channel", channel)
		m.replySubscriptionError(c, channel, "channel listen failed; subscription removed")
	}
}

// unsubscribe removes c from channel; the last subscriber leaving
// triggers an UNLISTEN.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, ok := m.channels[channel]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			if l := m.currentListener(); l != nil {
				// UNLISTEN runs async, and re-checks membership first: a
				// rapid unsubscribe/resubscribe (React StrictMode's double
				// render does exactly this) would otherwise re-add the
				// channel only to have the deferred UNLISTEN drop it.
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("events: UNLISTEN failed", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// replayMissed streams stored events after sinceID to the client,
// stamping each with its row ID so the client can track its position.
// The stored payload has no db_event_id (it is added to the NOTIFY
// payload at publish time), so it is injected here from the row.
func (m *ConnectionManager) replayMissed(ctx context.Context, c *Connection, channel string, sinceID int) {
	if m.catchupQuerier == nil {
		return
	}

	// One extra row past the limit detects overflow.
	events, err := m.catchupQuerier.GetCatchupEvents(ctx, channel, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("events: catchup query failed", "channel", channel, "error", err)
		return
	}
	overflowed := len(events) > catchupLimit
	if overflowed {
		events = events[:catchupLimit]
	}

	for _, evt := range events {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.push(c, payload); err != nil {
			slog.Warn("events: catchup write failed", "connection_id", c.ID, "error", err)
			return
		}
	}

	if overflowed {
		m.reply(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

func (m *ConnectionManager) track(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// drop detaches a closing connection: channel membership first, then the
// connection map, then the socket itself.
func (m *ConnectionManager) drop(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}
