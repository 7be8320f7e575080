package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// sqlJob is one LISTEN/UNLISTEN statement queued for the receive loop,
// which is the only goroutine allowed to touch the pgx connection.
type sqlJob struct {
	stmt    string
	channel string
	gen     uint64 // generation captured at Unsubscribe time; 0 = LISTEN, always runs
	done    chan error
}

// NotifyListener holds this replica's dedicated pg_notify connection. A
// NOTIFY arriving on a channel fans out to the local ConnectionManager
// (WebSocket clients watching a session) and to any registered internal
// handler (control channels like CancelRequestsChannel, which carry
// replica-to-replica traffic instead of UI events).
type NotifyListener struct {
	connString string
	manager    *ConnectionManager

	connMu sync.Mutex
	conn   *pgx.Conn

	channelsMu sync.RWMutex
	channels   map[string]bool // channels to (re-)LISTEN on

	// jobs funnels LISTEN/UNLISTEN through the receive loop; running Exec
	// concurrently with WaitForNotification trips pgx's "conn busy" check.
	jobs    chan sqlJob
	running atomic.Bool

	// gens carries a per-channel generation counter, bumped by the receive
	// loop each time a LISTEN actually executes. An Unsubscribe snapshots
	// the generation when it is issued; by the time its UNLISTEN job is
	// drained, a newer LISTEN may have run, in which case the snapshot no
	// longer matches and the UNLISTEN is discarded as stale.
	gensMu sync.Mutex
	gens   map[string]uint64

	handlersMu sync.RWMutex
	handlers   map[string]func(payload []byte)

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		channels:   make(map[string]bool),
		jobs:       make(chan sqlJob, 16),
		gens:       make(map[string]uint64),
		handlers:   make(map[string]func(payload []byte)),
	}
}

// Start opens the dedicated connection and launches the receive loop.
// bootstrapChannels are LISTENed up front, before the loop runs, and are
// re-LISTENed after a reconnect like any other subscribed channel. They
// exist for always-on control channels that no WebSocket subscriber will
// ever trigger a dynamic LISTEN for.
func (l *NotifyListener) Start(ctx context.Context, bootstrapChannels ...string) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}

	for _, ch := range bootstrapChannels {
		quoted := pgx.Identifier{ch}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
			_ = conn.Close(ctx)
			return fmt.Errorf("bootstrap LISTEN %s: %w", quoted, err)
		}
		l.channelsMu.Lock()
		l.channels[ch] = true
		l.channelsMu.Unlock()
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.run(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// submit queues a job and waits for the receive loop to execute it.
func (l *NotifyListener) submit(ctx context.Context, job sqlJob) error {
	select {
	case l.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe issues LISTEN for channel through the receive loop.
//
// It deliberately skips an "already listening" early return: PostgreSQL
// treats a duplicate LISTEN as a no-op, and an in-flight async UNLISTEN
// (from a prior unsubscribe) could otherwise drop the channel right after
// the check passed. The receive loop bumps the channel's generation when
// the LISTEN actually executes, which is what marks any such in-flight
// UNLISTEN stale.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	quoted := pgx.Identifier{channel}.Sanitize()
	err := l.submit(ctx, sqlJob{
		stmt:    "LISTEN " + quoted,
		channel: channel,
		done:    make(chan error, 1),
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("LISTEN %s failed: %w", quoted, err)
	}

	l.channelsMu.Lock()
	l.channels[channel] = true
	l.channelsMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe issues UNLISTEN for channel, tagged with the current
// generation so the receive loop can drop it if a newer Subscribe wins
// the race.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	listening := l.channels[channel]
	l.channelsMu.Unlock()
	if !listening || !l.running.Load() {
		return nil
	}

	l.gensMu.Lock()
	gen := l.gens[channel]
	l.gensMu.Unlock()

	quoted := pgx.Identifier{channel}.Sanitize()
	err := l.submit(ctx, sqlJob{
		stmt:    "UNLISTEN " + quoted,
		channel: channel,
		gen:     gen,
		done:    make(chan error, 1),
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("UNLISTEN %s failed: %w", quoted, err)
	}

	// Keep the channel in l.channels when a newer LISTEN raced in: the
	// UNLISTEN was skipped as stale, and reconnect must still re-LISTEN.
	l.gensMu.Lock()
	raced := l.gens[channel] != gen
	l.gensMu.Unlock()
	if !raced {
		l.channelsMu.Lock()
		delete(l.channels, channel)
		l.channelsMu.Unlock()
	}
	return nil
}

// isListening lets tests poll subscription state instead of sleeping.
func (l *NotifyListener) isListening(channel string) bool {
	l.channelsMu.RLock()
	defer l.channelsMu.RUnlock()
	return l.channels[channel]
}

// RegisterHandler attaches an internal callback for one channel, invoked
// alongside the ConnectionManager broadcast whenever a NOTIFY arrives
// there. cmd/codetree-server registers one on CancelRequestsChannel so a
// cancel accepted by any replica reaches the replica holding the session.
func (l *NotifyListener) RegisterHandler(channel string, fn func(payload []byte)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[channel] = fn
}

func (l *NotifyListener) currentConn() *pgx.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

// run is the receive loop: drain queued LISTEN/UNLISTEN jobs, wait
// briefly for a notification, dispatch it, repeat. The short wait timeout
// is what bounds the latency of queued jobs.
func (l *NotifyListener) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.drainJobs(ctx)

		conn := l.currentConn()
		if conn == nil {
			l.redial(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // periodic wakeup to drain jobs
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.redial(ctx)
			continue
		}

		l.handlersMu.RLock()
		handler := l.handlers[notification.Channel]
		l.handlersMu.RUnlock()
		if handler != nil {
			handler([]byte(notification.Payload))
		}

		l.manager.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

// drainJobs executes every queued LISTEN/UNLISTEN on the connection. A
// LISTEN bumps its channel's generation on success; an UNLISTEN whose
// captured generation no longer matches is acknowledged without running,
// which is how a rapid unsubscribe/resubscribe cycle keeps its LISTEN.
func (l *NotifyListener) drainJobs(ctx context.Context) {
	for {
		select {
		case job := <-l.jobs:
			if job.gen > 0 {
				l.gensMu.Lock()
				stale := l.gens[job.channel] != job.gen
				l.gensMu.Unlock()
				if stale {
					job.done <- nil
					continue
				}
			}

			conn := l.currentConn()
			if conn == nil {
				job.done <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, job.stmt)
			if err == nil && job.gen == 0 && job.channel != "" {
				l.gensMu.Lock()
				l.gens[job.channel]++
				l.gensMu.Unlock()
			}
			job.done <- err
		default:
			return
		}
	}
}

// redial replaces a dead connection, backing off exponentially, then
// re-LISTENs every subscribed channel.
func (l *NotifyListener) redial(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			quoted := pgx.Identifier{ch}.Sanitize()
			if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		slog.Info("NotifyListener reconnected")
		return
	}
}

// Stop shuts the receive loop down before closing the connection, so
// WaitForNotification and Close never race.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
