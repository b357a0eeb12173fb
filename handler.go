package rtnet

// Handler processes custom messages. The payload aliases the receive buffer
// and must be copied if it is retained after HandleMessage returns.
type Handler interface {
	HandleMessage(c *Connection, payload []byte)
}

// HandlerFunc is an adapter to allow the use of ordinary functions as Handlers.
type HandlerFunc func(c *Connection, payload []byte)

// HandleMessage calls f with the connection and payload.
func (f HandlerFunc) HandleMessage(c *Connection, payload []byte) {
	f(c, payload)
}

// Router receives every complete frame body read from a connection.
// A returned error is treated as a protocol violation and closes the
// connection.
type Router interface {
	RouteMessage(c *Connection, body []byte) error
}

// Engine is the surface shared by the client and server engines.
type Engine interface {
	Router
	HandleSystemMessage(c *Connection, msg Message) error
	Close() error
}

// Dispatch parses body and routes it: custom payloads go to h, system
// messages to system.
func Dispatch(c *Connection, body []byte, h Handler, system func(*Connection, Message) error) error {
	msg, err := ParseMessage(body)
	if err != nil {
		return err
	}

	if msg.Type == MessageCustom {
		if h != nil {
			h.HandleMessage(c, msg.Payload)
		}
		return nil
	}

	return system(c, msg)
}
