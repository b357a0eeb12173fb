package rtnet_test

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/stretchr/testify/require"
)

// shortConn writes at most max bytes per Write call.
type shortConn struct {
	net.Conn
	max int

	mu     sync.Mutex
	writes int
}

func (c *shortConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()

	if len(p) > c.max {
		p = p[:c.max]
	}
	return c.Conn.Write(p)
}

func (c *shortConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writes
}

// brokenConn fails every write.
type brokenConn struct {
	net.Conn
}

var errBroken = errors.New("broken pipe")

func (brokenConn) Write([]byte) (int, error) { return 0, errBroken }

type routerFunc func(c *rtnet.Connection, body []byte) error

func (f routerFunc) RouteMessage(c *rtnet.Connection, body []byte) error { return f(c, body) }

func TestConnectionSendOrderingUnderPartialWrites(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	pool := rtnet.NewOpContextPool()
	sc := &shortConn{Conn: a, max: 3}
	conn := rtnet.NewConnection(sc, rtnet.ConnConfig{
		SendBufferSize: 16,
		Pool:           pool,
	})

	out := make(chan rtnet.Message, 64)
	go readMessages(b, out)

	const n = 50
	for i := range n {
		require.NoError(t, conn.Send(fmt.Appendf(nil, "msg-%02d with some padding", i)))
	}

	for i := range n {
		select {
		case msg := <-out:
			require.Equal(t, rtnet.MessageCustom, msg.Type)
			require.Equal(t, fmt.Sprintf("msg-%02d with some padding", i), string(msg.Payload))
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	require.Greater(t, sc.Writes(), n)

	require.NoError(t, conn.Close())
	waitClosed(t, conn.Done(), 2*time.Second)
	require.NoError(t, conn.Err())

	require.Equal(t, uint64(2), pool.Created())
	require.Equal(t, 2, pool.Idle())
}

func TestConnectionSendSystem(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	conn := rtnet.NewConnection(a, rtnet.ConnConfig{Role: rtnet.RoleServerSide, ID: 4})
	defer conn.Close()

	require.Equal(t, uint32(4), conn.ID())
	require.Equal(t, rtnet.RoleServerSide, conn.Role())

	out := make(chan rtnet.Message, 1)
	go readMessages(b, out)

	require.NoError(t, conn.SendSystem(rtnet.ProtocolAssignClientID, rtnet.EncodeClientID(4)))

	select {
	case msg := <-out:
		require.Equal(t, rtnet.MessageSystem, msg.Type)
		require.Equal(t, rtnet.ProtocolAssignClientID, msg.Protocol)
		id, err := rtnet.DecodeClientID(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, uint32(4), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for system message")
	}
}

func TestConnectionReceiveRoutesInOrder(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	got := make(chan string, 8)
	conn := rtnet.NewConnection(a, rtnet.ConnConfig{
		ReceiveBufferSize: 32,
		Router: routerFunc(func(_ *rtnet.Connection, body []byte) error {
			got <- string(body)
			return nil
		}),
	})
	conn.Start()
	defer conn.Close()

	var stream []byte
	for _, s := range []string{"alpha", "beta", "a much longer body that spans several receive buffers"} {
		stream = rtnet.AppendFrame(stream, []byte(s))
	}
	go func() { _, _ = b.Write(stream) }()

	for _, want := range []string{"alpha", "beta", "a much longer body that spans several receive buffers"} {
		select {
		case s := <-got:
			require.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestConnectionProtocolViolationCloses(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	var closedWith error
	closed := make(chan struct{})
	conn := rtnet.NewConnection(a, rtnet.ConnConfig{
		OnClose: func(_ *rtnet.Connection, cause error) {
			closedWith = cause
			close(closed)
		},
	})
	conn.Start()

	go func() { _, _ = b.Write([]byte{0, 0, 0, 0x80}) }()

	waitClosed(t, closed, 2*time.Second)
	require.ErrorIs(t, closedWith, rtnet.ErrInvalidMsgLength)

	waitClosed(t, conn.Done(), 2*time.Second)
	require.ErrorIs(t, conn.Err(), rtnet.ErrInvalidMsgLength)
	require.False(t, conn.Connected())
}

func TestConnectionRouterErrorCloses(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	errBad := errors.New("bad message")
	conn := rtnet.NewConnection(a, rtnet.ConnConfig{
		Router: routerFunc(func(*rtnet.Connection, []byte) error { return errBad }),
	})
	conn.Start()

	go func() { _, _ = b.Write(rtnet.AppendFrame(nil, []byte{1, 0})) }()

	waitClosed(t, conn.Done(), 2*time.Second)
	require.ErrorIs(t, conn.Err(), errBad)
}

func TestConnectionRemoteCloseIsOrderly(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()

	destroyed := make(chan struct{})
	conn := rtnet.NewConnection(a, rtnet.ConnConfig{
		OnDestroy: func(*rtnet.Connection) { close(destroyed) },
	})
	conn.Start()

	require.NoError(t, b.Close())

	waitClosed(t, destroyed, 2*time.Second)
	require.NoError(t, conn.Err())
	require.ErrorIs(t, conn.Send([]byte("late")), rtnet.ErrNotConnected)
}

func TestConnectionSendErrorDisconnects(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	pool := rtnet.NewOpContextPool()
	conn := rtnet.NewConnection(brokenConn{Conn: a}, rtnet.ConnConfig{Pool: pool})

	require.NoError(t, conn.Send([]byte("doomed")))

	waitClosed(t, conn.Done(), 2*time.Second)
	require.ErrorIs(t, conn.Err(), errBroken)
	require.False(t, conn.Connected())
	require.Zero(t, conn.Queued())
	require.Equal(t, 2, pool.Idle())
}

func TestConnectionRejectsOversizedSend(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	conn := rtnet.NewConnection(a, rtnet.ConnConfig{MaxMessageSize: 8})
	defer conn.Close()

	require.ErrorIs(t, conn.Send(make([]byte, 16)), rtnet.ErrMaxLenExceeded)
	require.Zero(t, conn.Queued())
}

func TestConnectionCloseIdempotent(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	calls := 0
	conn := rtnet.NewConnection(a, rtnet.ConnConfig{
		OnClose: func(*rtnet.Connection, error) { calls++ },
	})
	conn.Start()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	waitClosed(t, conn.Done(), 2*time.Second)

	// Start after close must not resurrect the receive loop.
	conn.Start()
	require.Equal(t, 1, calls)
}
