package rtnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ErrNotConnected is returned when sending on a connection that is closed
// or has not been established.
var ErrNotConnected = errors.New("not connected")

const (
	// DefaultReceiveBufferSize is the size of the per-connection receive buffer.
	DefaultReceiveBufferSize = 1024
	// DefaultSendBufferSize bounds the size of one queued send chunk.
	DefaultSendBufferSize = 1024
)

// Role tells which side of a TCP session a Connection represents.
type Role uint8

const (
	// RoleLocal is the client's own connection to the server.
	RoleLocal Role = iota
	// RoleServerSide is a server's view of one accepted client.
	RoleServerSide
)

func (r Role) String() string {
	if r == RoleServerSide {
		return "server-side"
	}
	return "local"
}

// ConnConfig holds the settings a Connection is built with.
type ConnConfig struct {
	Role              Role
	ID                uint32
	ReceiveBufferSize int
	SendBufferSize    int
	MaxMessageSize    int
	Pool              *OpContextPool
	Logger            Logger
	Router            Router

	// OnClose runs once, after the socket is closed. cause is nil for an
	// orderly close.
	OnClose func(c *Connection, cause error)
	// OnDestroy runs once all resources of the connection are released.
	OnDestroy func(c *Connection)
}

// Connection is one TCP session. It owns one outstanding receive (the
// receive goroutine) and, while there is queued data, one outstanding send
// (the drain goroutine).
type Connection struct {
	conn      net.Conn
	role      Role
	pool      *OpContextPool
	logger    Logger
	router    Router
	sendSize  int
	maxMsg    int
	onClose   func(*Connection, error)
	onDestroy func(*Connection)

	id        atomic.Uint32
	connected atomic.Bool

	// receive goroutine only.
	reasm    *Reassembler
	routeErr error

	mu        sync.Mutex
	queue     *Queue[[]byte]
	cursor    int
	remaining int
	sending   bool
	receiving bool
	destroyed bool
	recvOp    *OpContext
	sendOp    *OpContext

	closeOnce sync.Once
	cause     error
	done      chan struct{}
}

// NewConnection wraps an established socket. The connection is marked
// connected but does not read until Start is called.
func NewConnection(conn net.Conn, cfg ConnConfig) *Connection {
	if cfg.ReceiveBufferSize <= 0 {
		cfg.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultSendBufferSize
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Pool == nil {
		cfg.Pool = NewOpContextPool()
	}

	c := &Connection{
		conn:      conn,
		role:      cfg.Role,
		pool:      cfg.Pool,
		logger:    loggerOrNoop(cfg.Logger),
		router:    cfg.Router,
		sendSize:  cfg.SendBufferSize,
		maxMsg:    cfg.MaxMessageSize,
		onClose:   cfg.OnClose,
		onDestroy: cfg.OnDestroy,
		reasm:     NewReassembler(cfg.MaxMessageSize),
		queue:     NewQueue[[]byte](16),
		done:      make(chan struct{}),
	}
	c.id.Store(cfg.ID)
	c.connected.Store(true)

	c.recvOp = c.pool.Acquire()
	c.recvOp.Buffer = GetBuffer(cfg.ReceiveBufferSize)
	c.recvOp.Remote = conn.RemoteAddr()
	c.recvOp.OnComplete(c.onReceiveCompleted)

	c.sendOp = c.pool.Acquire()
	c.sendOp.Remote = conn.RemoteAddr()
	c.sendOp.OnComplete(c.onSendCompleted)

	return c
}

// Start arms the receive side. It is a no-op on a closed or already
// started connection.
func (c *Connection) Start() {
	c.mu.Lock()
	if c.destroyed || c.receiving || !c.connected.Load() {
		c.mu.Unlock()
		return
	}
	c.receiving = true
	c.mu.Unlock()

	go c.receiveLoop()
}

// ID returns the client id, 0 while unassigned.
func (c *Connection) ID() uint32 { return c.id.Load() }

// SetID records the id assigned to this connection.
func (c *Connection) SetID(id uint32) { c.id.Store(id) }

func (c *Connection) Role() Role { return c.role }

// Connected reports whether the connection is still usable.
func (c *Connection) Connected() bool { return c.connected.Load() }

// NetConn returns the underlying socket.
func (c *Connection) NetConn() net.Conn { return c.conn }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Done is closed once the connection has released all of its resources.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection was closed. It is only meaningful
// after Done is closed; nil means an orderly close.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.cause
	default:
		return nil
	}
}

// Queued returns the number of chunks waiting to be written.
func (c *Connection) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.queue.Len()
}

// Close disconnects the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeWith(nil)
	return nil
}

// Send queues payload as a custom message.
func (c *Connection) Send(payload []byte) error {
	var tag [typeTagSize]byte
	binary.LittleEndian.PutUint16(tag[:], uint16(MessageCustom))

	return c.enqueue(tag[:], payload)
}

// SendSystem queues a system message with the given sub-protocol.
func (c *Connection) SendSystem(p Protocol, payload []byte) error {
	var tag [typeTagSize + protocolTagSize]byte
	binary.LittleEndian.PutUint16(tag[:], uint16(MessageSystem))
	binary.LittleEndian.PutUint16(tag[typeTagSize:], uint16(p))

	return c.enqueue(tag[:], payload)
}

// enqueue frames parts into send chunks and starts the drain goroutine if
// the connection is idle.
func (c *Connection) enqueue(parts ...[]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if c.maxMsg > 0 && total > c.maxMsg {
		return ErrMaxLenExceeded
	}

	c.mu.Lock()
	if c.destroyed || !c.connected.Load() {
		c.mu.Unlock()
		return ErrNotConnected
	}

	appendChunks(c.sendSize, c.queue.Push, parts...)

	start := !c.sending
	c.sending = true
	c.mu.Unlock()

	if start {
		go c.drain()
	}

	return nil
}

func (c *Connection) receiveLoop() {
	defer c.destroy()

	op := c.recvOp
	for {
		n, err := c.conn.Read(op.Buffer)
		if !op.Complete(n, err) {
			return
		}
	}
}

func (c *Connection) onReceiveCompleted(op *OpContext) bool {
	if op.N > 0 {
		if err := c.reasm.Feed(op.Buffer[:op.N], c.route); err != nil {
			c.logger.Warnf("protocol error from %v: %v", c.RemoteAddr(), err)
			c.closeWith(fmt.Errorf("receive: %w", err))
			return false
		}
		if c.routeErr != nil {
			c.logger.Warnf("protocol error from %v: %v", c.RemoteAddr(), c.routeErr)
			c.closeWith(fmt.Errorf("route: %w", c.routeErr))
			return false
		}
	}

	switch {
	case op.Err == nil && op.N == 0:
		c.closeWith(nil)
		return false

	case op.Err == nil:
		return c.connected.Load()

	case errors.Is(op.Err, io.EOF), isAborted(op.Err):
		c.closeWith(nil)
		return false

	default:
		c.logger.Debugf("receive error from %v: %v", c.RemoteAddr(), op.Err)
		c.closeWith(op.Err)
		return false
	}
}

// route hands one body to the router. It stops the current batch once the
// connection is torn down or the router reports a violation.
func (c *Connection) route(body []byte) bool {
	if !c.connected.Load() {
		return false
	}
	if c.router == nil {
		return true
	}
	if err := c.router.RouteMessage(c, body); err != nil {
		c.routeErr = err
		return false
	}

	return true
}

func (c *Connection) drain() {
	op := c.sendOp
	for {
		c.mu.Lock()
		chunk, ok := c.queue.Peek()
		if !ok || c.destroyed {
			c.stopSending()
			return
		}
		if c.cursor == 0 && c.remaining == 0 {
			c.remaining = len(chunk)
		}
		op.Buffer = chunk[c.cursor : c.cursor+c.remaining]
		c.mu.Unlock()

		n, err := c.conn.Write(op.Buffer)
		if !op.Complete(n, err) {
			c.mu.Lock()
			c.stopSending()
			return
		}
	}
}

// stopSending moves the send side back to idle. Called with mu held; it
// releases the lock.
func (c *Connection) stopSending() {
	c.sending = false
	cleanup := c.destroyed
	c.mu.Unlock()

	if cleanup {
		c.releaseSendResources()
		c.finish()
	}
}

func (c *Connection) onSendCompleted(op *OpContext) bool {
	if op.Err != nil {
		if !isAborted(op.Err) {
			c.logger.Warnf("send error to %v: %v", c.RemoteAddr(), op.Err)
			c.closeWith(fmt.Errorf("send: %w", op.Err))
		}
		return false
	}

	c.mu.Lock()
	c.remaining -= op.N
	if c.remaining < 0 {
		c.logger.Warnf("send overrun to %v: %d bytes", c.RemoteAddr(), -c.remaining)
		c.remaining = 0
	}

	if c.remaining > 0 {
		c.cursor += op.N
		c.mu.Unlock()
		return true
	}

	chunk, _ := c.queue.Pop()
	c.cursor = 0
	c.mu.Unlock()

	PutBuffer(chunk)

	return true
}

// closeWith runs the disconnect path once: mark disconnected, close the
// socket, notify. Resources are released by whichever goroutine finishes last.
func (c *Connection) closeWith(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		c.connected.Store(false)

		if err := c.conn.Close(); err != nil && !isAborted(err) {
			c.logger.Debugf("connection close error: %v", err)
		}

		if c.onClose != nil {
			c.onClose(c, cause)
		}

		c.mu.Lock()
		started := c.receiving
		c.mu.Unlock()

		if !started {
			c.destroy()
		}
	})
}

func (c *Connection) destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	sending := c.sending
	recvOp := c.recvOp
	c.recvOp = nil
	c.mu.Unlock()

	c.reasm.Reset()

	if recvOp != nil {
		PutBuffer(recvOp.Buffer)
		c.pool.Release(recvOp)
	}

	// an in-flight drain finishes the teardown when it stops.
	if !sending {
		c.releaseSendResources()
		c.finish()
	}
}

func (c *Connection) finish() {
	close(c.done)

	if c.onDestroy != nil {
		c.onDestroy(c)
	}
}

func (c *Connection) releaseSendResources() {
	c.mu.Lock()
	op := c.sendOp
	c.sendOp = nil
	c.queue.Drain(PutBuffer)
	c.cursor = 0
	c.remaining = 0
	c.mu.Unlock()

	if op != nil {
		c.pool.Release(op)
	}
}

// isAborted reports whether err comes from an operation cancelled by a local close.
func isAborted(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
