package rtnet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the first field of every message body.
type MessageType uint16

const (
	// MessageSystem carries engine-internal traffic such as id assignment.
	MessageSystem MessageType = 0
	// MessageCustom carries application payloads.
	MessageCustom MessageType = 1
)

func (t MessageType) String() string {
	switch t {
	case MessageSystem:
		return "system"
	case MessageCustom:
		return "custom"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

// Protocol tags a system message.
type Protocol uint16

// ProtocolAssignClientID tells a client which id the server gave it.
const ProtocolAssignClientID Protocol = 0

const (
	typeTagSize     = 2
	protocolTagSize = 2
	clientIDSize    = 4
)

var (
	// ErrShortMessage indicates a body too short to hold its tags.
	ErrShortMessage = errors.New("message too short")
	// ErrUnknownMessageType indicates a type tag outside System/Custom.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnknownProtocol indicates a system message with an unknown sub-protocol.
	ErrUnknownProtocol = errors.New("unknown system protocol")
)

// Message is one decoded message body. Payload aliases the receive buffer
// and is only valid while the message is being handled.
type Message struct {
	Type     MessageType
	Protocol Protocol // meaningful for system messages only.
	Payload  []byte
}

// ParseMessage splits a frame body into its tags and payload.
func ParseMessage(body []byte) (Message, error) {
	if len(body) < typeTagSize {
		return Message{}, ErrShortMessage
	}

	msg := Message{Type: MessageType(binary.LittleEndian.Uint16(body))}
	switch msg.Type {
	case MessageCustom:
		msg.Payload = body[typeTagSize:]
	case MessageSystem:
		if len(body) < typeTagSize+protocolTagSize {
			return Message{}, ErrShortMessage
		}
		msg.Protocol = Protocol(binary.LittleEndian.Uint16(body[typeTagSize:]))
		msg.Payload = body[typeTagSize+protocolTagSize:]
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint16(msg.Type))
	}

	return msg, nil
}

// AppendCustom appends a custom message body to dst.
func AppendCustom(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(MessageCustom))
	return append(dst, payload...)
}

// AppendSystem appends a system message body to dst.
func AppendSystem(dst []byte, p Protocol, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(MessageSystem))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(p))
	return append(dst, payload...)
}

// EncodeClientID encodes the AssignClientID payload.
func EncodeClientID(id uint32) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, clientIDSize), id)
}

// DecodeClientID decodes the AssignClientID payload.
func DecodeClientID(payload []byte) (uint32, error) {
	if len(payload) < clientIDSize {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(payload), nil
}
