package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrei-cloud/rtnet"
)

var (
	// ErrServerClosed is returned by operations on a closed server.
	ErrServerClosed = errors.New("server closed")
	// ErrUnknownClient is returned by SendTo for an id with no connection.
	ErrUnknownClient = errors.New("unknown client")
)

// Listener receives server lifecycle notifications. Callbacks run on engine
// goroutines and must not block.
type Listener interface {
	Started(s *Server)
	Accepted(s *Server, c *rtnet.Connection)
	Removed(s *Server, c *rtnet.Connection, cause error)
	Closed(s *Server)
}

// ListenerFuncs implements Listener with optional callbacks.
type ListenerFuncs struct {
	OnStarted  func(s *Server)
	OnAccepted func(s *Server, c *rtnet.Connection)
	OnRemoved  func(s *Server, c *rtnet.Connection, cause error)
	OnClosed   func(s *Server)
}

func (f ListenerFuncs) Started(s *Server) {
	if f.OnStarted != nil {
		f.OnStarted(s)
	}
}

func (f ListenerFuncs) Accepted(s *Server, c *rtnet.Connection) {
	if f.OnAccepted != nil {
		f.OnAccepted(s, c)
	}
}

func (f ListenerFuncs) Removed(s *Server, c *rtnet.Connection, cause error) {
	if f.OnRemoved != nil {
		f.OnRemoved(s, c, cause)
	}
}

func (f ListenerFuncs) Closed(s *Server) {
	if f.OnClosed != nil {
		f.OnClosed(s)
	}
}

type state uint8

const (
	stateStopped state = iota
	stateListening
	stateClosed
)

type Server struct {
	config          ServerConfig              // server configuration options.
	handler         rtnet.Handler             // handler to process custom messages.
	ids             *rtnet.IDAllocator        // client id allocator.
	listeners       rtnet.Listeners[Listener] // lifecycle subscribers.
	metrics         *Metrics                  // operational counters.
	activeConns     sync.Map                  // registry of active connections keyed by socket.
	byID            sync.Map                  // active connections keyed by client id.
	activeConnCount atomic.Int32              // atomic counter for active connections.
	connWG          sync.WaitGroup            // tracks connections until their resources are released.
	mu              sync.Mutex                // guards state and listener.
	state           state                     // lifecycle state.
	listener        net.Listener              // TCP listener for incoming connections.
	acceptDone      chan struct{}             // closed when the accept loop exits.
}

var _ rtnet.Engine = (*Server)(nil)

// New creates a server. handler receives custom messages from clients.
func New(cfg ServerConfig, handler rtnet.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	cfg.applyDefaults()

	s := &Server{
		config:     cfg,
		handler:    handler,
		ids:        rtnet.NewIDAllocator(),
		acceptDone: make(chan struct{}),
	}
	s.metrics = newMetrics(s.Len)

	return s, nil
}

// Subscribe registers l and returns a func that unregisters it.
func (s *Server) Subscribe(l Listener) (unsubscribe func()) {
	return s.listeners.Add(l)
}

// Start binds the listening socket and starts accepting.
func (s *Server) Start() error {
	s.mu.Lock()
	switch s.state {
	case stateListening:
		s.mu.Unlock()
		return rtnet.ErrAlreadyStarted
	case stateClosed:
		s.mu.Unlock()
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.listener = ln
	s.state = stateListening
	s.mu.Unlock()

	s.metrics.publish()

	s.config.Logger.Infof("listening on %s", ln.Addr())
	s.listeners.Each(func(l Listener) { l.Started(s) })

	go s.acceptLoop(ln)

	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Metrics returns the server counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Pool returns the operation context pool shared by all connections.
func (s *Server) Pool() *rtnet.OpContextPool {
	return s.config.Pool
}

// Len returns the number of registered connections.
func (s *Server) Len() int {
	return int(s.activeConnCount.Load())
}

// Connection looks up an active connection by client id.
func (s *Server) Connection(id uint32) (*rtnet.Connection, bool) {
	v, ok := s.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*rtnet.Connection), true
}

// SendTo queues a custom message for the client with the given id.
func (s *Server) SendTo(id uint32, payload []byte) error {
	c, ok := s.Connection(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}

	return s.Send(c, payload)
}

// Send queues a custom message on c.
func (s *Server) Send(c *rtnet.Connection, payload []byte) error {
	if err := c.Send(payload); err != nil {
		return err
	}

	s.metrics.MessagesOut.Add(1)
	s.metrics.BytesOut.Add(int64(rtnet.LENGTHSIZE + 2 + len(payload)))

	return nil
}

// Broadcast queues payload on every active connection. A failure on one
// connection does not stop delivery to the others; all failures are
// returned joined.
func (s *Server) Broadcast(payload []byte) error {
	var errs []error
	s.activeConns.Range(func(_, val any) bool {
		c := val.(*rtnet.Connection)
		if err := s.Send(c, payload); err != nil {
			errs = append(errs, fmt.Errorf("client %d: %w", c.ID(), err))
		}
		return true
	})

	return errors.Join(errs...)
}

// Close stops accepting, disconnects every client and waits up to
// ShutdownTimeout for their resources to be released.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	prev := s.state
	s.state = stateClosed
	ln := s.listener
	s.mu.Unlock()

	var err error
	if prev == stateListening {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		<-s.acceptDone
		s.metrics.unpublish()
	}

	s.activeConns.Range(func(_, val any) bool {
		_ = val.(*rtnet.Connection).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warnf("timeout waiting for connections to close")
	}

	s.config.Logger.Infof("server closed")
	s.listeners.Each(func(l Listener) { l.Closed(s) })

	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Errorf("accept error: %v", err)
			time.Sleep(100 * time.Millisecond)

			continue
		}

		if s.config.MaxConns > 0 && s.Len() >= s.config.MaxConns {
			s.metrics.Rejected.Add(1)
			s.config.Logger.Warnf("rejecting %v: connection limit %d reached", conn.RemoteAddr(), s.config.MaxConns)
			if err := conn.Close(); err != nil {
				s.config.Logger.Debugf("connection close error: %v", err)
			}

			continue
		}

		s.handleNewConnection(conn)
	}
}

func (s *Server) handleNewConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok && s.config.KeepAliveInterval > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(s.config.KeepAliveInterval)
	}

	id := s.ids.Allocate()
	c := rtnet.NewConnection(conn, rtnet.ConnConfig{
		Role:              rtnet.RoleServerSide,
		ID:                id,
		ReceiveBufferSize: s.config.ReceiveBufferSize,
		SendBufferSize:    s.config.SendBufferSize,
		MaxMessageSize:    s.config.MaxMessageSize,
		Pool:              s.config.Pool,
		Logger:            s.config.Logger,
		Router:            s,
		OnClose:           s.removeConnection,
		OnDestroy:         func(*rtnet.Connection) { s.connWG.Done() },
	})

	s.connWG.Add(1)
	s.activeConns.Store(conn, c)
	s.byID.Store(id, c)
	s.activeConnCount.Add(1)
	s.metrics.Accepted.Add(1)

	if err := c.SendSystem(rtnet.ProtocolAssignClientID, rtnet.EncodeClientID(id)); err != nil {
		s.config.Logger.Warnf("assign client id %d: %v", id, err)
	}

	s.config.Logger.Infof("client %d connected from %v", id, conn.RemoteAddr())
	s.listeners.Each(func(l Listener) { l.Accepted(s, c) })

	c.Start()
}

// removeConnection is the disconnect path of every server-side connection.
func (s *Server) removeConnection(c *rtnet.Connection, cause error) {
	if _, ok := s.activeConns.LoadAndDelete(c.NetConn()); !ok {
		return
	}

	id := c.ID()
	s.byID.CompareAndDelete(id, c)
	s.activeConnCount.Add(-1)
	s.ids.Release(id)
	s.metrics.Removed.Add(1)

	if errors.Is(cause, rtnet.ErrInvalidMsgLength) || errors.Is(cause, rtnet.ErrMaxLenExceeded) {
		s.metrics.ProtocolErrors.Add(1)
	}

	if cause != nil {
		s.config.Logger.Warnf("client %d disconnected: %v", id, cause)
	} else {
		s.config.Logger.Infof("client %d disconnected", id)
	}
	s.listeners.Each(func(l Listener) { l.Removed(s, c, cause) })
}

// RouteMessage implements rtnet.Router.
func (s *Server) RouteMessage(c *rtnet.Connection, body []byte) error {
	s.metrics.MessagesIn.Add(1)
	s.metrics.BytesIn.Add(int64(rtnet.LENGTHSIZE + len(body)))

	if err := rtnet.Dispatch(c, body, s.handler, s.HandleSystemMessage); err != nil {
		s.metrics.ProtocolErrors.Add(1)
		return err
	}

	return nil
}

// HandleSystemMessage applies a system message sent by a client.
func (s *Server) HandleSystemMessage(c *rtnet.Connection, msg rtnet.Message) error {
	switch msg.Protocol {
	case rtnet.ProtocolAssignClientID:
		// ids flow from server to client only.
		s.config.Logger.Debugf("ignoring client id assignment from client %d", c.ID())
		return nil

	default:
		return fmt.Errorf("%w: %d", rtnet.ErrUnknownProtocol, uint16(msg.Protocol))
	}
}
