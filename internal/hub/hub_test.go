package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(userID string) *Conn {
	// 不启动写循环，注册表测试用不到真socket
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		UserID: userID,
		msgCh:  make(chan []byte, WriterBufferSize),
		binCh:  make(chan []byte, WriterBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func TestRegisterLastJoinWins(t *testing.T) {
	h := New()

	first := testConn("u1")
	prev := h.Register("room-1", first)
	assert.Nil(t, prev)
	assert.Equal(t, 1, h.Size("room-1"))

	// Reconnect from the same account displaces the first connection.
	second := testConn("u1")
	prev = h.Register("room-1", second)
	require.Same(t, first, prev)
	assert.Equal(t, 1, h.Size("room-1"))
}

func TestUnregisterOnlyRemovesCurrent(t *testing.T) {
	h := New()

	stale := testConn("u1")
	h.Register("room-1", stale)
	fresh := testConn("u1")
	h.Register("room-1", fresh)

	// The displaced connection's cleanup must not evict the fresh one.
	h.Unregister("room-1", stale)
	assert.Equal(t, 1, h.Size("room-1"))

	h.Unregister("room-1", fresh)
	assert.Equal(t, 0, h.Size("room-1"))
}

func TestConnsForExcludes(t *testing.T) {
	h := New()
	h.Register("room-1", testConn("u1"))
	h.Register("room-1", testConn("u2"))
	h.Register("room-1", testConn("u3"))

	conns := h.connsFor("room-1", []string{"u2"})
	assert.Len(t, conns, 2)
	for _, c := range conns {
		assert.NotEqual(t, "u2", c.UserID)
	}

	assert.Empty(t, h.connsFor("no-such-room", nil))
}

func TestSendJSONDropsWhenFull(t *testing.T) {
	c := testConn("u1")
	// Fill the channel; nothing is draining it.
	for i := 0; i < WriterBufferSize; i++ {
		require.NoError(t, c.SendJSON(map[string]string{"n": "x"}))
	}
	// The overflow frame is dropped without blocking.
	assert.NoError(t, c.SendJSON(map[string]string{"n": "overflow"}))
	assert.Len(t, c.msgCh, WriterBufferSize)
}

func TestSendAfterClose(t *testing.T) {
	c := testConn("u1")
	c.cancel()
	assert.Error(t, c.SendJSON(map[string]string{"a": "b"}))
	assert.Error(t, c.SendBinary([]byte{1}))
}
