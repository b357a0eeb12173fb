package rtnet

import (
	"time"
)

const (
	DefaultDialTimeout = 5 * time.Second // default timeout for establishing a connection.
)

// ClientConfig holds client engine settings.
type ClientConfig struct {
	Address           string         // server address to dial.
	ReceiveBufferSize int            // size of the receive buffer.
	SendBufferSize    int            // maximum size of one send chunk.
	MaxMessageSize    int            // largest body accepted or sent.
	DialTimeout       time.Duration  // timeout for the dial.
	Logger            Logger         // optional logger for client events.
	Pool              *OpContextPool // optional shared operation context pool.
}

func (c *ClientConfig) applyDefaults() {
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = DefaultReceiveBufferSize
	}

	if c.SendBufferSize <= 0 {
		c.SendBufferSize = DefaultSendBufferSize
	}

	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	c.Logger = loggerOrNoop(c.Logger)

	if c.Pool == nil {
		c.Pool = NewOpContextPool()
	}
}
