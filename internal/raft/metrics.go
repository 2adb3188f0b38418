package raft

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics publishes the consensus state a Raft peer would otherwise only
// expose through GetState/RaftStateSize, as Prometheus gauges/counters
// labeled by peer id so cmd/raftkv-node can run several peers (or several
// test peers) against one registry without label collisions.
type Metrics struct {
	peer string

	term          prometheus.Gauge
	role          prometheus.Gauge
	commitIndex   prometheus.Gauge
	lastApplied   prometheus.Gauge
	logLength     prometheus.Gauge
	raftStateSize prometheus.Gauge

	electionsStarted prometheus.Counter
	electionsWon     prometheus.Counter
	snapshotsTaken   prometheus.Counter
}

// NewMetrics registers this peer's metric family under reg. Passing a
// dedicated *prometheus.Registry (rather than the global default) per peer
// keeps unit tests that spin up many peers from fighting over metric names.
func NewMetrics(reg prometheus.Registerer, peerID int) *Metrics {
	peer := strconv.Itoa(peerID)
	mk := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raftkv",
			Subsystem:   "raft",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"peer": peer},
		})
		reg.MustRegister(g)
		return g
	}
	mkCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raftkv",
			Subsystem:   "raft",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"peer": peer},
		})
		reg.MustRegister(c)
		return c
	}

	return &Metrics{
		peer:             peer,
		term:             mk("current_term", "current Raft term this peer has observed"),
		role:             mk("role", "0=follower 1=candidate 2=leader"),
		commitIndex:      mk("commit_index", "highest log index known committed"),
		lastApplied:      mk("last_applied", "highest log index delivered to the apply pipeline"),
		logLength:        mk("log_length", "number of entries in the in-memory log tail"),
		raftStateSize:    mk("state_size_bytes", "size of the last persisted raft state in bytes"),
		electionsStarted: mkCounter("elections_started_total", "number of times this peer became a candidate"),
		electionsWon:     mkCounter("elections_won_total", "number of times this peer won an election"),
		snapshotsTaken:   mkCounter("snapshots_taken_total", "number of snapshots this peer has taken"),
	}
}

// NopMetrics returns a Metrics that records nothing, for tests that don't
// want to register to any registry.
func NopMetrics() *Metrics {
	return &Metrics{
		term:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_term"}),
		role:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_role"}),
		commitIndex:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_commit"}),
		lastApplied:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_applied"}),
		logLength:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_log_len"}),
		raftStateSize:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_state_size"}),
		electionsStarted: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_elections_started"}),
		electionsWon:     prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_elections_won"}),
		snapshotsTaken:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_snapshots"}),
	}
}

func (m *Metrics) observeLocked(rf *Raft) {
	m.term.Set(float64(rf.currentTerm))
	m.role.Set(float64(rf.role))
	m.commitIndex.Set(float64(rf.commitIndex))
	m.lastApplied.Set(float64(rf.lastApplied))
	m.logLength.Set(float64(len(rf.raftLog.entries)))
	m.raftStateSize.Set(float64(rf.persister.RaftStateSize()))
}
