package rtnet

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// LENGTHSIZE is the size of the frame length prefix.
	LENGTHSIZE = 4

	// DefaultMaxMessageSize bounds the body length accepted from a peer.
	DefaultMaxMessageSize = 16 << 20 // 16 MB
)

// ErrInvalidMsgLength indicates a message length header is invalid.
var ErrInvalidMsgLength = errors.New("invalid message length")

// ErrMaxLenExceeded indicates the message length exceeds the maximum allowed.
var ErrMaxLenExceeded = errors.New("maximum message length exceeded")

// AppendFrame appends the length prefix and body to dst.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// Write writes data prefixed with a little-endian length header.
func Write(w io.Writer, in []byte) error {
	if len(in) > math.MaxInt32 {
		return ErrMaxLenExceeded
	}

	_, err := w.Write(AppendFrame(make([]byte, 0, LENGTHSIZE+len(in)), in))

	return err
}

// Read reads one frame from r and returns its body.
func Read(r io.Reader) ([]byte, error) {
	var hdr [LENGTHSIZE]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := int32(binary.LittleEndian.Uint32(hdr[:]))
	if length < 0 {
		return nil, ErrInvalidMsgLength
	}
	if int(length) > DefaultMaxMessageSize {
		return nil, ErrMaxLenExceeded
	}

	message := make([]byte, int(length))
	if _, err := io.ReadFull(r, message); err != nil {
		return nil, err
	}

	return message, nil
}

// SplitChunks frames body and cuts the frame into pieces of at most size
// bytes. Each piece is backed by a pooled buffer; callers hand pieces back
// with PutBuffer once written.
func SplitChunks(size int, parts ...[]byte) [][]byte {
	var chunks [][]byte
	appendChunks(size, func(chunk []byte) { chunks = append(chunks, chunk) }, parts...)

	return chunks
}

// appendChunks streams the length prefix and parts into pooled chunks of at
// most size bytes and passes each filled chunk to push, in order.
func appendChunks(size int, push func([]byte), parts ...[]byte) {
	if size <= 0 {
		size = maxBufferSize
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}

	var hdr [LENGTHSIZE]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(total))

	remaining := LENGTHSIZE + total
	chunk := GetBuffer(min(size, remaining))[:0]

	write := func(src []byte) {
		for len(src) > 0 {
			n := copy(chunk[len(chunk):cap(chunk)][:min(len(src), size-len(chunk))], src)
			chunk = chunk[:len(chunk)+n]
			src = src[n:]
			remaining -= n
			if len(chunk) == size && remaining > 0 {
				push(chunk)
				chunk = GetBuffer(min(size, remaining))[:0]
			}
		}
	}

	write(hdr[:])
	for _, p := range parts {
		write(p)
	}
	push(chunk)
}

// Reassembler turns a byte stream delivered in arbitrary pieces back into
// the frames it was built from. It keeps the undecoded tail between calls.
// A Reassembler is owned by a single reader and is not safe for concurrent use.
type Reassembler struct {
	residue []byte
	max     int
}

// NewReassembler creates a reassembler rejecting bodies longer than max.
// A max of zero disables the limit.
func NewReassembler(max int) *Reassembler {
	return &Reassembler{max: max}
}

// Feed consumes p and calls emit once per complete body, in stream order.
// The body slice is only valid during the call. Returning false from emit
// stops processing and discards anything left in the current buffer.
func (r *Reassembler) Feed(p []byte, emit func(body []byte) bool) error {
	buf := p
	if len(r.residue) > 0 {
		r.residue = append(r.residue, p...)
		buf = r.residue
	}

	for {
		if len(buf) < LENGTHSIZE {
			r.keep(buf)
			return nil
		}

		length := int32(binary.LittleEndian.Uint32(buf))
		if length < 0 {
			r.Reset()
			return ErrInvalidMsgLength
		}
		if r.max > 0 && int(length) > r.max {
			r.Reset()
			return ErrMaxLenExceeded
		}

		avail := len(buf) - LENGTHSIZE
		switch {
		case int(length) == avail:
			r.clear()
			emit(buf[LENGTHSIZE:])
			return nil

		case int(length) < avail:
			end := LENGTHSIZE + int(length)
			if !emit(buf[LENGTHSIZE:end]) {
				r.clear()
				return nil
			}
			buf = buf[end:]

		default:
			r.keep(buf)
			return nil
		}
	}
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (r *Reassembler) Pending() int {
	return len(r.residue)
}

// Reset drops any buffered bytes.
func (r *Reassembler) Reset() {
	r.residue = nil
}

// keep stores buf as residue. buf may alias the residue itself; when it
// already starts at the residue nothing is copied.
func (r *Reassembler) keep(buf []byte) {
	if len(buf) > 0 && len(r.residue) > 0 && &buf[0] == &r.residue[0] {
		r.residue = buf
		return
	}
	r.residue = append(r.residue[:0], buf...)
}

func (r *Reassembler) clear() {
	if cap(r.residue) > maxBufferSize {
		r.residue = nil
		return
	}
	r.residue = r.residue[:0]
}
