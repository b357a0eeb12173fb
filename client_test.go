package rtnet_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClientLifecycle(t *testing.T) {
	t.Parallel()

	fromClient := make(chan rtnet.Message, 4)
	peer := startRawPeer(t, func(conn net.Conn) {
		if writeSystem(conn, rtnet.ProtocolAssignClientID, rtnet.EncodeClientID(42)) != nil {
			return
		}
		if writeCustom(conn, []byte("welcome")) != nil {
			return
		}
		readMessages(conn, fromClient)
	})

	received := make(chan string, 1)
	cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: peer.Addr()},
		rtnet.HandlerFunc(func(_ *rtnet.Connection, payload []byte) {
			received <- string(payload)
		}))
	require.NoError(t, err)

	connected := make(chan struct{})
	assigned := make(chan uint32, 1)
	closed := make(chan error, 1)
	cl.Subscribe(rtnet.ClientListenerFuncs{
		OnConnected:  func(*rtnet.Client) { close(connected) },
		OnIDAssigned: func(_ *rtnet.Client, id uint32) { assigned <- id },
		OnClosed:     func(_ *rtnet.Client, cause error) { closed <- cause },
	})

	require.Equal(t, rtnet.ClientDisconnected, cl.State())
	require.ErrorIs(t, cl.Send([]byte("early")), rtnet.ErrNotConnected)

	require.NoError(t, cl.Connect(context.Background()))
	waitClosed(t, connected, time.Second)
	require.Equal(t, rtnet.ClientConnected, cl.State())
	require.ErrorIs(t, cl.Connect(context.Background()), rtnet.ErrAlreadyStarted)

	select {
	case id := <-assigned:
		require.Equal(t, uint32(42), id)
		require.Equal(t, uint32(42), cl.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("no id assigned")
	}

	select {
	case s := <-received:
		require.Equal(t, "welcome", s)
	case <-time.After(2 * time.Second):
		t.Fatal("no custom message")
	}

	require.NoError(t, cl.Send([]byte("hi server")))
	select {
	case msg := <-fromClient:
		require.Equal(t, rtnet.MessageCustom, msg.Type)
		require.Equal(t, "hi server", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive")
	}

	var handoffClosed atomic.Int32
	cl.AttachHandoff(closerFunc(func() error {
		handoffClosed.Add(1)
		return nil
	}))

	require.NoError(t, cl.Close())
	require.NoError(t, cl.Close())

	select {
	case cause := <-closed:
		require.NoError(t, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("no close notification")
	}
	require.Equal(t, int32(1), handoffClosed.Load())
	require.Equal(t, rtnet.ClientDisconnected, cl.State())

	waitClosed(t, cl.Connection().Done(), 2*time.Second)
	require.Equal(t, 2, cl.Pool().Idle())
}

func TestClientServerHangup(t *testing.T) {
	t.Parallel()

	peer := startRawPeer(t, func(conn net.Conn) {
		_ = conn.Close()
	})

	cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: peer.Addr()}, nil)
	require.NoError(t, err)

	closed := make(chan struct{})
	cl.Subscribe(rtnet.ClientListenerFuncs{
		OnClosed: func(*rtnet.Client, error) { close(closed) },
	})

	require.NoError(t, cl.Connect(context.Background()))
	waitClosed(t, closed, 2*time.Second)
	require.Equal(t, rtnet.ClientDisconnected, cl.State())
	require.ErrorIs(t, cl.Send([]byte("x")), rtnet.ErrNotConnected)
}

func TestClientUnknownProtocolCloses(t *testing.T) {
	t.Parallel()

	peer := startRawPeer(t, func(conn net.Conn) {
		if writeSystem(conn, rtnet.Protocol(99), nil) != nil {
			return
		}
		_, _ = rtnet.Read(conn)
	})

	cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: peer.Addr()}, nil)
	require.NoError(t, err)

	closed := make(chan error, 1)
	cl.Subscribe(rtnet.ClientListenerFuncs{
		OnClosed: func(_ *rtnet.Client, cause error) { closed <- cause },
	})

	require.NoError(t, cl.Connect(context.Background()))

	select {
	case cause := <-closed:
		require.ErrorIs(t, cause, rtnet.ErrUnknownProtocol)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func TestClientDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: addr, DialTimeout: time.Second}, nil)
	require.NoError(t, err)

	err = cl.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, rtnet.ClientDisconnected, cl.State())

	_, err = rtnet.NewClient(rtnet.ClientConfig{}, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, rtnet.ErrNotConnected))
}

// TestClientCloseDuringConnect closes the client while Connect is running
// and checks a closed connection never reports the client as connected.
func TestClientCloseDuringConnect(t *testing.T) {
	t.Parallel()

	peer := startRawPeer(t, func(net.Conn) {})

	for i := range 50 {
		cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: peer.Addr()}, nil)
		require.NoError(t, err)

		connected := make(chan error, 1)
		go func() { connected <- cl.Connect(context.Background()) }()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for range 1000 {
				if cl.Connection() != nil {
					_ = cl.Close()
					return
				}
				time.Sleep(10 * time.Microsecond)
			}
		}()

		err = <-connected
		<-closed

		conn := cl.Connection()
		if err != nil {
			require.ErrorIs(t, err, rtnet.ErrNotConnected, "iteration %d", i)
		}
		if conn != nil && !conn.Connected() {
			require.Equal(t, rtnet.ClientDisconnected, cl.State(), "iteration %d", i)
		}
		_ = cl.Close()
	}
}
