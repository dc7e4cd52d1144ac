package stack

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// dropReason labels a discarded inbound segment for the
// usertcp_segments_dropped_total counter (SPEC_FULL.md §6.3).
type dropReason string

const (
	dropUnknownProtocol dropReason = "unknown_protocol"
	dropTruncated       dropReason = "truncated"
	dropChecksum        dropReason = "checksum"
	dropUnmatchedPeer   dropReason = "unmatched_peer"
	dropQueueFull       dropReason = "queue_full"
)

type handshakeOutcome string

const (
	handshakeAccepted handshakeOutcome = "accepted"
	handshakeRefused  handshakeOutcome = "refused"
	handshakeTimedOut handshakeOutcome = "timed_out"
)

type direction string

const (
	directionRx direction = "rx"
	directionTx direction = "tx"
)

// Collector implements prometheus.Collector for one Interface's
// connection registry, following runZeroInc-conniver's
// TCPInfoCollector: counters accumulate under a mutex as events happen,
// and Collect only ever reads them, never blocks on registry state.
type Collector struct {
	reg *registry

	mu              sync.Mutex
	handshakeTotals map[handshakeOutcome]uint64
	bytesTotals     map[direction]uint64
	segmentsDropped map[dropReason]uint64

	connections  *prometheus.Desc
	handshakes   *prometheus.Desc
	bytesTotal   *prometheus.Desc
	segmentsDrop *prometheus.Desc
}

// NewCollector builds a Collector bound to reg. Register it with a
// prometheus.Registerer to expose usertcp_* metrics.
func NewCollector(reg *registry) *Collector {
	return &Collector{
		reg:             reg,
		handshakeTotals: make(map[handshakeOutcome]uint64),
		bytesTotals:     make(map[direction]uint64),
		segmentsDropped: make(map[dropReason]uint64),
		connections: prometheus.NewDesc(
			"usertcp_connections", "Number of connections currently tracked by the registry, by state.",
			[]string{"state"}, nil,
		),
		handshakes: prometheus.NewDesc(
			"usertcp_handshakes_total", "Handshakes completed, by outcome.",
			[]string{"outcome"}, nil,
		),
		bytesTotal: prometheus.NewDesc(
			"usertcp_bytes_total", "Payload bytes carried, by direction.",
			[]string{"direction"}, nil,
		),
		segmentsDrop: prometheus.NewDesc(
			"usertcp_segments_dropped_total", "Inbound segments discarded, by reason.",
			[]string{"reason"}, nil,
		),
	}
}

func (c *Collector) recordHandshake(outcome handshakeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshakeTotals[outcome]++
}

func (c *Collector) recordBytes(dir direction, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesTotals[dir] += uint64(n)
}

func (c *Collector) recordDrop(reason dropReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentsDropped[reason]++
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.handshakes
	ch <- c.bytesTotal
	ch <- c.segmentsDrop
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	byState := map[string]int{}
	for _, state := range c.reg.snapshot() {
		byState[state.String()]++
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(n), state)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for outcome, n := range c.handshakeTotals {
		ch <- prometheus.MustNewConstMetric(c.handshakes, prometheus.CounterValue, float64(n), string(outcome))
	}
	for dir, n := range c.bytesTotals {
		ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(n), string(dir))
	}
	for reason, n := range c.segmentsDropped {
		ch <- prometheus.MustNewConstMetric(c.segmentsDrop, prometheus.CounterValue, float64(n), string(reason))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
