package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotifyListener(t *testing.T) {
	manager := NewConnectionManager(&stubCatchup{}, 0)
	listener := NewNotifyListener("host=localhost dbname=codetree", manager)

	assert.NotNil(t, listener)
	assert.Equal(t, "host=localhost dbname=codetree", listener.connString)
	assert.NotNil(t, listener.channels)
	assert.Equal(t, manager, listener.manager)
}

func TestNotifyListener_ChannelTrackingWithoutConnection(t *testing.T) {
	// Without calling Start(), the listener has no connection.
	// Subscribe/Unsubscribe should return errors gracefully.
	manager := NewConnectionManager(&stubCatchup{}, 0)
	listener := NewNotifyListener("host=localhost dbname=codetree", manager)

	t.Run("subscribe without connection returns error", func(t *testing.T) {
		err := listener.Subscribe(t.Context(), SessionChannel("sess-1"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not established")
	})

	t.Run("unsubscribe without connection is a no-op", func(t *testing.T) {
		err := listener.Unsubscribe(t.Context(), SessionChannel("sess-1"))
		assert.NoError(t, err) // Not listening, so no-op
	})
}

func TestNotifyListener_RegisterHandler(t *testing.T) {
	// The cancel control channel gets an internal handler; session UI
	// channels do not. Registration is keyed by exact channel name.
	manager := NewConnectionManager(&stubCatchup{}, 0)
	listener := NewNotifyListener("host=localhost dbname=codetree", manager)

	var got []byte
	listener.RegisterHandler(CancelRequestsChannel, func(payload []byte) { got = payload })

	listener.handlersMu.RLock()
	handler := listener.handlers[CancelRequestsChannel]
	other := listener.handlers[SessionChannel("sess-1")]
	listener.handlersMu.RUnlock()

	require.NotNil(t, handler)
	assert.Nil(t, other)

	handler([]byte(`{"session_id":"sess-1"}`))
	assert.JSONEq(t, `{"session_id":"sess-1"}`, string(got))
}
