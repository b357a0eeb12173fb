package server

import (
	"time"

	"github.com/andrei-cloud/rtnet"
)

const (
	DefaultMaxConns          = 0                // default max connections means no limit.
	DefaultShutdownTimeout   = 5 * time.Second  // default shutdown timeout duration.
	DefaultKeepAliveInterval = 30 * time.Second // default TCP keepalive period.
)

type ServerConfig struct {
	Address           string               // network address to listen on.
	ReceiveBufferSize int                  // per-connection receive buffer size.
	SendBufferSize    int                  // maximum size of one send chunk.
	MaxConns          int                  // maximum concurrent connections allowed.
	MaxMessageSize    int                  // largest body accepted or sent.
	ShutdownTimeout   time.Duration        // grace period for shutdown wait.
	KeepAliveInterval time.Duration        // interval for TCP keepalive probes, negative disables.
	Logger            rtnet.Logger         // optional logger for server events.
	Pool              *rtnet.OpContextPool // optional shared operation context pool.
}

func (c *ServerConfig) applyDefaults() {
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = rtnet.DefaultReceiveBufferSize
	}

	if c.SendBufferSize <= 0 {
		c.SendBufferSize = rtnet.DefaultSendBufferSize
	}

	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = rtnet.DefaultMaxMessageSize
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}

	if c.Logger == nil {
		c.Logger = &rtnet.NoopLogger{}
	}

	if c.Pool == nil {
		c.Pool = rtnet.NewOpContextPool()
	}
}
