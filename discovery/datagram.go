package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/andrei-cloud/rtnet"
)

// ErrMalformedDatagram indicates a datagram whose length prefix does not
// match its payload, or an announcement that cannot be parsed.
var ErrMalformedDatagram = errors.New("malformed discovery datagram")

const separator = "|"

// Announcement is what a server broadcasts about itself.
type Announcement struct {
	Hostname string
	Addr     string // IPv4 address of the announcing host.
}

func (a Announcement) String() string {
	return a.Hostname + separator + a.Addr
}

// Marshal encodes the announcement as a length-prefixed datagram.
func (a Announcement) Marshal() []byte {
	return Encode([]byte(a.String()))
}

// Encode prefixes payload with its little-endian int32 length.
func Encode(payload []byte) []byte {
	return rtnet.AppendFrame(make([]byte, 0, rtnet.LENGTHSIZE+len(payload)), payload)
}

// Decode validates a received datagram and returns its payload. The claimed
// length must equal the number of bytes that follow it.
func Decode(datagram []byte) ([]byte, error) {
	if len(datagram) < rtnet.LENGTHSIZE {
		return nil, ErrMalformedDatagram
	}

	claimed := int32(binary.LittleEndian.Uint32(datagram))
	if claimed < 0 || int(claimed) != len(datagram)-rtnet.LENGTHSIZE {
		return nil, fmt.Errorf("%w: claims %d bytes, has %d", ErrMalformedDatagram, claimed, len(datagram)-rtnet.LENGTHSIZE)
	}

	return datagram[rtnet.LENGTHSIZE:], nil
}

// ParseAnnouncement parses a "hostname|ipv4" payload.
func ParseAnnouncement(payload []byte) (Announcement, error) {
	host, addr, ok := strings.Cut(string(payload), separator)
	if !ok || host == "" {
		return Announcement{}, ErrMalformedDatagram
	}

	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return Announcement{}, fmt.Errorf("%w: bad address %q", ErrMalformedDatagram, addr)
	}

	return Announcement{Hostname: host, Addr: addr}, nil
}

// LocalAnnouncement describes this host: its hostname and first
// non-loopback IPv4 address.
func LocalAnnouncement() (Announcement, error) {
	host, err := os.Hostname()
	if err != nil {
		return Announcement{}, fmt.Errorf("hostname: %w", err)
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return Announcement{}, fmt.Errorf("interface addresses: %w", err)
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return Announcement{Hostname: host, Addr: ip4.String()}, nil
		}
	}

	return Announcement{}, errors.New("no non-loopback IPv4 address")
}
