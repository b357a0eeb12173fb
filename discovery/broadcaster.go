package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrei-cloud/rtnet"
)

// BroadcasterEvents receives broadcaster notifications.
type BroadcasterEvents interface {
	BroadcastStarted(b *Broadcaster)
	BroadcastSent(b *Broadcaster)
	BroadcastStopped(b *Broadcaster)
}

// BroadcasterEventFuncs implements BroadcasterEvents with optional callbacks.
type BroadcasterEventFuncs struct {
	OnStarted func(b *Broadcaster)
	OnSent    func(b *Broadcaster)
	OnStopped func(b *Broadcaster)
}

func (f BroadcasterEventFuncs) BroadcastStarted(b *Broadcaster) {
	if f.OnStarted != nil {
		f.OnStarted(b)
	}
}

func (f BroadcasterEventFuncs) BroadcastSent(b *Broadcaster) {
	if f.OnSent != nil {
		f.OnSent(b)
	}
}

func (f BroadcasterEventFuncs) BroadcastStopped(b *Broadcaster) {
	if f.OnStopped != nil {
		f.OnStopped(b)
	}
}

type broadcastRun struct {
	conn net.PacketConn
	stop chan struct{}
	done chan struct{}

	// set while the send loop runs BroadcastSent listeners.
	notifying atomic.Bool
}

// Broadcaster repeatedly sends an announcement to the broadcast target.
type Broadcaster struct {
	cfg       Config
	datagram  []byte
	target    *net.UDPAddr
	interval  atomic.Int64
	listeners rtnet.Listeners[BroadcasterEvents]

	mu  sync.Mutex
	run *broadcastRun
}

// NewBroadcaster creates an idle broadcaster announcing ann.
func NewBroadcaster(cfg Config, ann Announcement) (*Broadcaster, error) {
	cfg.applyDefaults()

	target, err := net.ResolveUDPAddr("udp4", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast target %s: %w", cfg.Target, err)
	}

	b := &Broadcaster{
		cfg:      cfg,
		datagram: ann.Marshal(),
		target:   target,
	}
	b.interval.Store(int64(cfg.Interval))

	return b, nil
}

// Subscribe registers e and returns a func that unregisters it.
func (b *Broadcaster) Subscribe(e BroadcasterEvents) (unsubscribe func()) {
	return b.listeners.Add(e)
}

// Interval returns the pause between two announcements.
func (b *Broadcaster) Interval() time.Duration {
	return time.Duration(b.interval.Load())
}

// SetInterval changes the pause between announcements. Negative values
// are ignored.
func (b *Broadcaster) SetInterval(d time.Duration) {
	if d < 0 {
		return
	}
	b.interval.Store(int64(d))
}

// Broadcasting reports whether the send loop is running.
func (b *Broadcaster) Broadcasting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.run != nil
}

// Start opens the broadcast socket and begins announcing every interval.
// A negative interval keeps the current one.
func (b *Broadcaster) Start(interval time.Duration) error {
	b.mu.Lock()
	if b.run != nil {
		b.mu.Unlock()
		return rtnet.ErrAlreadyStarted
	}

	lc := net.ListenConfig{Control: controlBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", "0.0.0.0:0")
	if err != nil {
		b.mu.Unlock()
		return err
	}

	run := &broadcastRun{
		conn: pc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.run = run
	b.SetInterval(interval)
	b.mu.Unlock()

	b.cfg.Logger.Infof("broadcasting to %s every %s", b.target, b.Interval())
	b.listeners.Each(func(e BroadcasterEvents) { e.BroadcastStarted(b) })

	go b.loop(run)

	return nil
}

// Stop ends the send loop and closes the socket. Called from a BroadcastSent
// listener it returns without waiting for the loop, which exits as soon as
// the listener returns.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	run := b.run
	b.run = nil
	b.mu.Unlock()

	if run == nil {
		return
	}

	close(run.stop)
	_ = run.conn.Close()
	if !run.notifying.Load() {
		<-run.done
	}

	b.cfg.Logger.Infof("broadcast stopped")
	b.listeners.Each(func(e BroadcasterEvents) { e.BroadcastStopped(b) })
}

// Close stops the broadcaster. It implements io.Closer so a broadcaster can
// be attached to a client for handoff.
func (b *Broadcaster) Close() error {
	b.Stop()
	return nil
}

func (b *Broadcaster) loop(run *broadcastRun) {
	defer close(run.done)

	op := b.cfg.Pool.Acquire()
	op.Buffer = b.datagram
	op.Remote = b.target
	op.OnComplete(func(op *rtnet.OpContext) bool { return b.onSent(run, op) })
	defer b.cfg.Pool.Release(op)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		n, err := run.conn.WriteTo(op.Buffer, op.Remote)
		if !op.Complete(n, err) {
			return
		}

		if d := b.Interval(); d > 0 {
			timer.Reset(d)
			select {
			case <-run.stop:
				return
			case <-timer.C:
			}
			continue
		}

		select {
		case <-run.stop:
			return
		default:
		}
	}
}

func (b *Broadcaster) onSent(run *broadcastRun, op *rtnet.OpContext) bool {
	if op.Err != nil {
		if errors.Is(op.Err, net.ErrClosed) {
			return false
		}
		b.cfg.Logger.Warnf("broadcast send error: %v", op.Err)
		return true
	}

	run.notifying.Store(true)
	b.listeners.Each(func(e BroadcasterEvents) { e.BroadcastSent(b) })
	run.notifying.Store(false)

	return true
}
