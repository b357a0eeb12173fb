package discovery

import (
	"context"
	"fmt"
	"net"
)

// Role is the outcome of an election.
type Role uint8

const (
	// RoleServer means nobody answered in time and this host should serve.
	RoleServer Role = iota
	// RoleClient means a server announced itself.
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Result describes the elected role.
type Result struct {
	Role Role
	Peer Announcement // announcing server, for RoleClient.
	From net.Addr     // datagram source, for RoleClient.

	// Broadcaster is running and announcing self, for RoleServer. The
	// caller owns it and must close it.
	Broadcaster *Broadcaster
}

// Elect listens for a server announcement for cfg.Timeout. If one arrives
// this host becomes a client of it; otherwise it becomes the server and
// starts announcing self.
func Elect(ctx context.Context, cfg Config, self Announcement) (Result, error) {
	cfg.applyDefaults()

	type outcome struct {
		payload  []byte
		from     net.Addr
		timedOut bool
	}
	ch := make(chan outcome, 1)

	l := NewListener(cfg)
	l.SetFilter(func(payload []byte) bool {
		_, err := ParseAnnouncement(payload)
		return err == nil
	})
	l.Subscribe(ListenerEventFuncs{
		OnReceived: func(_ *Listener, payload []byte, from net.Addr) {
			ch <- outcome{payload: payload, from: from}
		},
		OnTimedOut: func(*Listener) {
			ch <- outcome{timedOut: true}
		},
	})

	if err := l.Start(cfg.Timeout); err != nil {
		return Result{}, fmt.Errorf("discovery listen: %w", err)
	}

	var o outcome
	select {
	case <-ctx.Done():
		l.Stop()
		return Result{}, ctx.Err()
	case o = <-ch:
	}

	if !o.timedOut {
		peer, err := ParseAnnouncement(o.payload)
		if err != nil {
			return Result{}, err
		}
		cfg.Logger.Infof("found server %s at %s", peer.Hostname, peer.Addr)

		return Result{Role: RoleClient, Peer: peer, From: o.from}, nil
	}

	b, err := NewBroadcaster(cfg, self)
	if err != nil {
		return Result{}, err
	}
	if err := b.Start(cfg.Interval); err != nil {
		return Result{}, fmt.Errorf("discovery broadcast: %w", err)
	}
	cfg.Logger.Infof("no server found, announcing %s", self)

	return Result{Role: RoleServer, Broadcaster: b}, nil
}
