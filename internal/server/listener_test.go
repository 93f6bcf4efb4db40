package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-socket-server/pkg/protocol"
)

type incomingItem struct {
	conn *Connection
	err  error
}

// drain 在后台消费 Incoming，把结果送入通道
func drain(l *Listener) <-chan incomingItem {
	out := make(chan incomingItem, 16)
	go func() {
		defer close(out)
		for conn, err := range l.Incoming() {
			out <- incomingItem{conn, err}
		}
	}()
	return out
}

func next(t *testing.T, items <-chan incomingItem) incomingItem {
	t.Helper()
	select {
	case item, ok := <-items:
		require.True(t, ok, "incoming sequence ended")
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return incomingItem{}
	}
}

func dialRaw(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBindError(t *testing.T) {
	l, err := Bind("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = Bind(l.Addr().String())
	require.Error(t, err)

	var bindErr *protocol.BindError
	assert.True(t, errors.As(err, &bindErr))
}

func TestIncomingHandshake(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithHandshakeTimeout(time.Second))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	raw := dialRaw(t, l.Addr())
	require.NoError(t, protocol.ClientHandshake(raw))

	item := next(t, items)
	require.NoError(t, item.err)
	defer item.conn.Close()

	// 握手后可以收发数据包
	require.NoError(t, protocol.Encode(raw, protocol.Byte(protocol.GetStatus)))
	p, err := item.conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.Byte(protocol.GetStatus), p)

	require.NoError(t, item.conn.SendAll([]protocol.Packet{protocol.Str("a"), protocol.Int32(7)}))
	dec := protocol.NewDecoder(raw)
	for _, want := range []protocol.Packet{protocol.Str("a"), protocol.Int32(7)} {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIncomingBadHandshakeDoesNotStopListener(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithHandshakeTimeout(time.Second))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	bad := dialRaw(t, l.Addr())
	require.NoError(t, protocol.Encode(bad, protocol.Byte(43)))

	item := next(t, items)
	assert.Nil(t, item.conn)
	assert.ErrorIs(t, item.err, protocol.ErrBadHandshake)
	var connectErr *protocol.ConnectError
	assert.True(t, errors.As(item.err, &connectErr))

	// 失败的连接被关闭
	_, err = protocol.Decode(bad)
	assert.Error(t, err)

	good := dialRaw(t, l.Addr())
	require.NoError(t, protocol.ClientHandshake(good))
	item = next(t, items)
	require.NoError(t, item.err)
	item.conn.Close()
}

func TestIncomingHandshakeTimeout(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithHandshakeTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	// 连接后不发送任何数据
	dialRaw(t, l.Addr())

	item := next(t, items)
	assert.ErrorIs(t, item.err, protocol.ErrBadHandshake)
}

func TestIncomingSilentPeerDoesNotBlockOthers(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithHandshakeTimeout(3*time.Second))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	// 沉默的对端占用握手直到超时
	dialRaw(t, l.Addr())

	good := dialRaw(t, l.Addr())
	require.NoError(t, good.SetDeadline(time.Now().Add(time.Second)))
	start := time.Now()
	require.NoError(t, protocol.ClientHandshake(good))
	assert.Less(t, time.Since(start), time.Second)

	item := next(t, items)
	require.NoError(t, item.err)
	item.conn.Close()
}

func TestIncomingEndsOnClose(t *testing.T) {
	l, err := Bind("127.0.0.1:0")
	require.NoError(t, err)
	items := drain(l)

	require.NoError(t, l.Close())

	select {
	case _, ok := <-items:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming sequence did not end")
	}
}

func TestConnectionMaxStringSize(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithMaxStringSize(8))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	raw := dialRaw(t, l.Addr())
	require.NoError(t, protocol.ClientHandshake(raw))
	item := next(t, items)
	require.NoError(t, item.err)
	defer item.conn.Close()

	require.NoError(t, protocol.Encode(raw, protocol.Str("12345678")))
	p, err := item.conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.Str("12345678"), p)

	require.NoError(t, protocol.Encode(raw, protocol.Str("123456789")))
	_, err = item.conn.Recv()
	assert.True(t, protocol.IsInvalidFormat(err))
}

func TestConnectionReadTimeout(t *testing.T) {
	l, err := Bind("127.0.0.1:0", WithTimeouts(50*time.Millisecond, time.Second))
	require.NoError(t, err)
	defer l.Close()
	items := drain(l)

	raw := dialRaw(t, l.Addr())
	require.NoError(t, protocol.ClientHandshake(raw))
	item := next(t, items)
	require.NoError(t, item.err)
	defer item.conn.Close()

	_, err = item.conn.Recv()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}
