// Package rtnet_test provides tests for the rtnet package.
//
//nolint:all
package rtnet_test

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/stretchr/testify/require"
)

// waitGroupWithTimeout attempts to wait for a WaitGroup with a timeout.
// Returns true if the WaitGroup completed before timeout, false otherwise.
func waitGroupWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// waitClosed fails the test if ch is not closed within timeout.
func waitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for close")
	}
}

// rawPeer is a minimal frame-speaking TCP server for client tests. It hands
// every accepted socket to onAccept and closes them all on shutdown.
type rawPeer struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func startRawPeer(t *testing.T, onAccept func(net.Conn)) *rawPeer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &rawPeer{ln: ln}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					t.Logf("raw peer accept error: %v", err)
				}
				return
			}

			p.mu.Lock()
			p.conns = append(p.conns, conn)
			p.mu.Unlock()

			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				onAccept(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		p.mu.Lock()
		for _, c := range p.conns {
			_ = c.Close()
		}
		p.mu.Unlock()
		if !waitGroupWithTimeout(&p.wg, 5*time.Second) {
			t.Log("timed out waiting for raw peer to stop")
		}
	})

	return p
}

func (p *rawPeer) Addr() string {
	return p.ln.Addr().String()
}

// readMessages reads frames from conn until it fails and sends each parsed
// message on out.
func readMessages(conn net.Conn, out chan<- rtnet.Message) {
	for {
		body, err := rtnet.Read(conn)
		if err != nil {
			return
		}

		msg, err := rtnet.ParseMessage(body)
		if err != nil {
			return
		}
		out <- msg
	}
}

// writeSystem writes one framed system message to w.
func writeSystem(w io.Writer, p rtnet.Protocol, payload []byte) error {
	return rtnet.Write(w, rtnet.AppendSystem(nil, p, payload))
}

// writeCustom writes one framed custom message to w.
func writeCustom(w io.Writer, payload []byte) error {
	return rtnet.Write(w, rtnet.AppendCustom(nil, payload))
}
