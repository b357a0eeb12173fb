package server

import (
	"expvar"
	"strconv"
	"sync"
	"sync/atomic"
)

// metricsSeq keeps expvar keys unique when several servers share a process.
var metricsSeq atomic.Int64

var (
	serversOnce sync.Once
	serversVar  *expvar.Map
)

// serverVars returns the process-wide "rtnet.servers" expvar map. Each
// running server has one entry, removed again when it closes.
func serverVars() *expvar.Map {
	serversOnce.Do(func() {
		serversVar = expvar.NewMap("rtnet.servers")
	})
	return serversVar
}

// Metrics tracks operational counters for a Server. All counters are
// lock-free. While the server runs they are published to expvar under
// "rtnet.servers" keyed by a per-process sequence number.
type Metrics struct {
	Accepted       atomic.Int64
	Rejected       atomic.Int64
	Removed        atomic.Int64
	MessagesIn     atomic.Int64
	MessagesOut    atomic.Int64
	BytesIn        atomic.Int64
	BytesOut       atomic.Int64
	ProtocolErrors atomic.Int64

	key      string
	activeFn func() int
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Accepted       int64
	Rejected       int64
	Removed        int64
	Active         int
	MessagesIn     int64
	MessagesOut    int64
	BytesIn        int64
	BytesOut       int64
	ProtocolErrors int64
}

func newMetrics(activeFn func() int) *Metrics {
	return &Metrics{
		key:      strconv.FormatInt(metricsSeq.Add(1), 10),
		activeFn: activeFn,
	}
}

func (m *Metrics) publish() {
	serverVars().Set(m.key, expvar.Func(func() any { return m.Snapshot() }))
}

func (m *Metrics) unpublish() {
	serverVars().Delete(m.key)
}

func (m *Metrics) active() int {
	if m.activeFn != nil {
		return m.activeFn()
	}
	return 0
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Accepted:       m.Accepted.Load(),
		Rejected:       m.Rejected.Load(),
		Removed:        m.Removed.Load(),
		Active:         m.active(),
		MessagesIn:     m.MessagesIn.Load(),
		MessagesOut:    m.MessagesOut.Load(),
		BytesIn:        m.BytesIn.Load(),
		BytesOut:       m.BytesOut.Load(),
		ProtocolErrors: m.ProtocolErrors.Load(),
	}
}
