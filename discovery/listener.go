package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrei-cloud/rtnet"
)

// ListenerEvents receives listener notifications. Per session exactly one
// of DatagramReceived or TimedOut fires, unless the session is stopped
// first, and ListenStopped always comes last.
type ListenerEvents interface {
	ListenStarted(l *Listener)
	DatagramReceived(l *Listener, payload []byte, from net.Addr)
	TimedOut(l *Listener)
	ListenStopped(l *Listener)
}

// ListenerEventFuncs implements ListenerEvents with optional callbacks.
type ListenerEventFuncs struct {
	OnStarted  func(l *Listener)
	OnReceived func(l *Listener, payload []byte, from net.Addr)
	OnTimedOut func(l *Listener)
	OnStopped  func(l *Listener)
}

func (f ListenerEventFuncs) ListenStarted(l *Listener) {
	if f.OnStarted != nil {
		f.OnStarted(l)
	}
}

func (f ListenerEventFuncs) DatagramReceived(l *Listener, payload []byte, from net.Addr) {
	if f.OnReceived != nil {
		f.OnReceived(l, payload, from)
	}
}

func (f ListenerEventFuncs) TimedOut(l *Listener) {
	if f.OnTimedOut != nil {
		f.OnTimedOut(l)
	}
}

func (f ListenerEventFuncs) ListenStopped(l *Listener) {
	if f.OnStopped != nil {
		f.OnStopped(l)
	}
}

const (
	listenActive int32 = iota
	listenReceived
	listenTimedOut
	listenStopped
)

// session is one Start..stop cycle of a Listener.
type session struct {
	conn    net.PacketConn
	state   atomic.Int32
	timer   *time.Timer // guarded by Listener.mu.
	done    chan struct{}
	payload []byte
	from    net.Addr
}

// finish moves an active session to outcome and aborts its pending read.
// Only the first caller wins.
func (s *session) finish(outcome int32) bool {
	if !s.state.CompareAndSwap(listenActive, outcome) {
		return false
	}
	_ = s.conn.Close()

	return true
}

// Listener waits for the first valid discovery datagram on the discovery port.
type Listener struct {
	cfg       Config
	listeners rtnet.Listeners[ListenerEvents]

	mu     sync.Mutex
	cur    *session
	filter func(payload []byte) bool
}

// NewListener creates an idle listener.
func NewListener(cfg Config) *Listener {
	cfg.applyDefaults()

	return &Listener{cfg: cfg}
}

// Subscribe registers e and returns a func that unregisters it.
func (l *Listener) Subscribe(e ListenerEvents) (unsubscribe func()) {
	return l.listeners.Add(e)
}

// SetFilter installs a check run on every well-formed payload. Payloads
// it rejects are dropped like malformed datagrams.
func (l *Listener) SetFilter(fn func(payload []byte) bool) {
	l.mu.Lock()
	l.filter = fn
	l.mu.Unlock()
}

// Listening reports whether a session is active.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cur != nil
}

// Addr returns the bound address of the active session, nil when idle.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil {
		return nil
	}
	return l.cur.conn.LocalAddr()
}

// Start binds the discovery port and waits for a datagram. A positive
// timeout ends the session with TimedOut if nothing valid arrives in time.
func (l *Listener) Start(timeout time.Duration) error {
	l.mu.Lock()
	if l.cur != nil {
		l.mu.Unlock()
		return rtnet.ErrAlreadyStarted
	}

	lc := net.ListenConfig{Control: controlReuse}
	pc, err := lc.ListenPacket(context.Background(), "udp4", l.cfg.ListenAddr)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	s := &session{conn: pc, done: make(chan struct{})}
	l.cur = s
	l.mu.Unlock()

	l.cfg.Logger.Debugf("discovery listening on %s", pc.LocalAddr())
	l.listeners.Each(func(e ListenerEvents) { e.ListenStarted(l) })

	op := l.cfg.Pool.Acquire()
	op.Buffer = rtnet.GetBuffer(l.cfg.BufferSize)
	op.OnComplete(func(op *rtnet.OpContext) bool { return l.onDatagram(s, op) })

	if timeout > 0 {
		l.mu.Lock()
		s.timer = time.AfterFunc(timeout, func() { s.finish(listenTimedOut) })
		l.mu.Unlock()
	}

	go l.readLoop(s, op)

	return nil
}

// Stop ends the active session and waits for its socket to be released.
func (l *Listener) Stop() {
	l.mu.Lock()
	s := l.cur
	l.mu.Unlock()

	if s == nil {
		return
	}

	s.finish(listenStopped)
	<-s.done
}

// Close stops the listener. It implements io.Closer so an active listener
// can be handed to a client and closed with it.
func (l *Listener) Close() error {
	l.Stop()
	return nil
}

func (l *Listener) readLoop(s *session, op *rtnet.OpContext) {
	for {
		n, from, err := s.conn.ReadFrom(op.Buffer)
		op.Remote = from
		if !op.Complete(n, err) {
			break
		}
	}

	rtnet.PutBuffer(op.Buffer)
	l.cfg.Pool.Release(op)

	l.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if l.cur == s {
		l.cur = nil
	}
	l.mu.Unlock()

	close(s.done)

	switch s.state.Load() {
	case listenReceived:
		l.cfg.Logger.Infof("discovery datagram from %v", s.from)
		l.listeners.Each(func(e ListenerEvents) { e.DatagramReceived(l, s.payload, s.from) })
	case listenTimedOut:
		l.cfg.Logger.Infof("discovery timed out")
		l.listeners.Each(func(e ListenerEvents) { e.TimedOut(l) })
	}

	l.listeners.Each(func(e ListenerEvents) { e.ListenStopped(l) })
}

func (l *Listener) onDatagram(s *session, op *rtnet.OpContext) bool {
	if op.Err != nil {
		if !errors.Is(op.Err, net.ErrClosed) {
			l.cfg.Logger.Warnf("discovery receive error: %v", op.Err)
			s.finish(listenStopped)
		}
		return false
	}

	payload, err := Decode(op.Buffer[:op.N])
	if err != nil {
		l.cfg.Logger.Debugf("dropping datagram from %v: %v", op.Remote, err)
		return true
	}

	l.mu.Lock()
	filter := l.filter
	l.mu.Unlock()

	if filter != nil && !filter(payload) {
		l.cfg.Logger.Debugf("dropping datagram from %v: rejected", op.Remote)
		return true
	}

	s.payload = append([]byte(nil), payload...)
	s.from = op.Remote
	s.finish(listenReceived)

	return false
}
