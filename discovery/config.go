package discovery

import (
	"net"
	"strconv"
	"time"

	"github.com/andrei-cloud/rtnet"
)

const (
	DefaultPort       = 10010           // default discovery port.
	DefaultInterval   = time.Second     // default pause between announcements.
	DefaultTimeout    = 4 * time.Second // default listen timeout used by Elect.
	DefaultBufferSize = 1024            // default datagram receive buffer size.
)

// Config holds discovery settings shared by the broadcaster and listener.
type Config struct {
	Port       int                  // discovery port.
	Interval   time.Duration        // pause between announcements.
	Timeout    time.Duration        // how long Elect listens before claiming the server role.
	Target     string               // broadcast destination, defaults to 255.255.255.255:Port.
	ListenAddr string               // listener bind address, defaults to 0.0.0.0:Port.
	BufferSize int                  // datagram receive buffer size.
	Logger     rtnet.Logger         // optional logger.
	Pool       *rtnet.OpContextPool // optional shared operation context pool.
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}

	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.Target == "" {
		c.Target = net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(c.Port))
	}

	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(c.Port))
	}

	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}

	if c.Logger == nil {
		c.Logger = &rtnet.NoopLogger{}
	}

	if c.Pool == nil {
		c.Pool = rtnet.NewOpContextPool()
	}
}
