package rtnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ErrAlreadyStarted is returned when Connect is called on a client that is
// already connecting or connected.
var ErrAlreadyStarted = errors.New("already started")

// ClientState is the lifecycle state of a Client.
type ClientState int32

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientConnected
)

func (s ClientState) String() string {
	switch s {
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientListener receives client lifecycle notifications. Callbacks run on
// engine goroutines and must not block.
type ClientListener interface {
	Connected(cl *Client)
	IDAssigned(cl *Client, id uint32)
	Closed(cl *Client, cause error)
}

// ClientListenerFuncs implements ClientListener with optional callbacks.
type ClientListenerFuncs struct {
	OnConnected  func(cl *Client)
	OnIDAssigned func(cl *Client, id uint32)
	OnClosed     func(cl *Client, cause error)
}

func (f ClientListenerFuncs) Connected(cl *Client) {
	if f.OnConnected != nil {
		f.OnConnected(cl)
	}
}

func (f ClientListenerFuncs) IDAssigned(cl *Client, id uint32) {
	if f.OnIDAssigned != nil {
		f.OnIDAssigned(cl, id)
	}
}

func (f ClientListenerFuncs) Closed(cl *Client, cause error) {
	if f.OnClosed != nil {
		f.OnClosed(cl, cause)
	}
}

// Client is the engine for the client side of a session: one Local
// connection to a server.
type Client struct {
	cfg       ClientConfig
	handler   Handler
	listeners Listeners[ClientListener]
	state     atomic.Int32

	mu      sync.Mutex
	conn    *Connection
	handoff []io.Closer
}

var _ Engine = (*Client)(nil)

// NewClient creates a client. handler receives custom messages from the
// server and may be nil.
func NewClient(cfg ClientConfig, handler Handler) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("address is required")
	}
	cfg.applyDefaults()

	return &Client{
		cfg:     cfg,
		handler: handler,
	}, nil
}

// Subscribe registers l and returns a func that unregisters it.
func (cl *Client) Subscribe(l ClientListener) (unsubscribe func()) {
	return cl.listeners.Add(l)
}

// State returns the current lifecycle state.
func (cl *Client) State() ClientState {
	return ClientState(cl.state.Load())
}

// Pool returns the operation context pool the client draws from.
func (cl *Client) Pool() *OpContextPool {
	return cl.cfg.Pool
}

// Connect dials the server and arms the receive side of the new connection.
func (cl *Client) Connect(ctx context.Context) error {
	if !cl.state.CompareAndSwap(int32(ClientDisconnected), int32(ClientConnecting)) {
		return ErrAlreadyStarted
	}

	d := net.Dialer{Timeout: cl.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", cl.cfg.Address)
	if err != nil {
		cl.state.Store(int32(ClientDisconnected))
		return fmt.Errorf("dial %s: %w", cl.cfg.Address, err)
	}

	conn := NewConnection(nc, ConnConfig{
		Role:              RoleLocal,
		ReceiveBufferSize: cl.cfg.ReceiveBufferSize,
		SendBufferSize:    cl.cfg.SendBufferSize,
		MaxMessageSize:    cl.cfg.MaxMessageSize,
		Pool:              cl.cfg.Pool,
		Logger:            cl.cfg.Logger,
		Router:            cl,
		OnClose:           cl.connectionClosed,
	})

	cl.mu.Lock()
	cl.conn = conn
	cl.mu.Unlock()

	if !cl.state.CompareAndSwap(int32(ClientConnecting), int32(ClientConnected)) {
		// closed while connecting.
		_ = conn.Close()
		return ErrNotConnected
	}
	cl.cfg.Logger.Infof("connected to %s", nc.RemoteAddr())
	cl.listeners.Each(func(l ClientListener) { l.Connected(cl) })

	conn.Start()

	return nil
}

// Connection returns the current connection, nil before Connect.
func (cl *Client) Connection() *Connection {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.conn
}

// ID returns the id the server assigned, 0 until it arrives.
func (cl *Client) ID() uint32 {
	if conn := cl.Connection(); conn != nil {
		return conn.ID()
	}
	return 0
}

// Send queues payload as a custom message to the server.
func (cl *Client) Send(payload []byte) error {
	conn := cl.Connection()
	if conn == nil || cl.State() != ClientConnected {
		return ErrNotConnected
	}

	return conn.Send(payload)
}

// AttachHandoff registers a socket that must be closed together with the
// client, such as a discovery socket still open during role handoff.
func (cl *Client) AttachHandoff(c io.Closer) {
	cl.mu.Lock()
	cl.handoff = append(cl.handoff, c)
	cl.mu.Unlock()
}

// Close tears down the connection and any handoff sockets. Closing a
// closed client is a no-op.
func (cl *Client) Close() error {
	cl.mu.Lock()
	conn := cl.conn
	handoff := cl.handoff
	cl.handoff = nil
	cl.mu.Unlock()

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	for _, h := range handoff {
		if err := h.Close(); err != nil && !isAborted(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RouteMessage implements Router.
func (cl *Client) RouteMessage(c *Connection, body []byte) error {
	return Dispatch(c, body, cl.handler, cl.HandleSystemMessage)
}

// HandleSystemMessage applies a system message sent by the server.
func (cl *Client) HandleSystemMessage(c *Connection, msg Message) error {
	switch msg.Protocol {
	case ProtocolAssignClientID:
		id, err := DecodeClientID(msg.Payload)
		if err != nil {
			return fmt.Errorf("assign client id: %w", err)
		}
		c.SetID(id)
		cl.cfg.Logger.Debugf("assigned client id %d", id)
		cl.listeners.Each(func(l ClientListener) { l.IDAssigned(cl, id) })
		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnknownProtocol, uint16(msg.Protocol))
	}
}

func (cl *Client) connectionClosed(_ *Connection, cause error) {
	cl.state.Store(int32(ClientDisconnected))
	if cause != nil {
		cl.cfg.Logger.Warnf("connection closed: %v", cause)
	} else {
		cl.cfg.Logger.Infof("connection closed")
	}
	cl.listeners.Each(func(l ClientListener) { l.Closed(cl, cause) })
}
