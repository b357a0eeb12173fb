//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package discovery

import (
	"syscall"
)

func controlReuse(_, _ string, _ syscall.RawConn) error { return nil }

func controlBroadcast(_, _ string, _ syscall.RawConn) error { return nil }
