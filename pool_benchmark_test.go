package rtnet_test

import (
	"testing"

	"github.com/andrei-cloud/rtnet"
)

// BenchmarkOpContextPool_AcquireRelease measures the steady-state cost of
// loaning a context to an operation and returning it.
func BenchmarkOpContextPool_AcquireRelease(b *testing.B) {
	p := rtnet.NewOpContextPool()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		op := p.Acquire()
		p.Release(op)
	}
}

// BenchmarkReassembler_Coalesced measures draining a receive event that
// carries several coalesced frames.
func BenchmarkReassembler_Coalesced(b *testing.B) {
	var stream []byte
	for range 8 {
		stream = rtnet.AppendFrame(stream, []byte("position-update-0123456789"))
	}
	r := rtnet.NewReassembler(0)
	emit := func([]byte) bool { return true }

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Feed(stream, emit); err != nil {
			b.Fatalf("feed: %v", err)
		}
	}
}

// BenchmarkReassembler_LargeSplitFrame measures reassembling a 4 MiB frame
// delivered in 1 KiB reads.
func BenchmarkReassembler_LargeSplitFrame(b *testing.B) {
	stream := rtnet.AppendFrame(nil, make([]byte, 4<<20))
	r := rtnet.NewReassembler(0)
	emit := func([]byte) bool { return true }

	b.ReportAllocs()
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for off := 0; off < len(stream); off += 1024 {
			end := min(off+1024, len(stream))
			if err := r.Feed(stream[off:end], emit); err != nil {
				b.Fatalf("feed: %v", err)
			}
		}
	}
}
