// Package raft implements a Raft consensus module: leader election, log
// replication with fast conflict backoff, commit advancement, persistent
// state, and log compaction via snapshot install. It hands committed entries
// to whatever upper state machine is listening on the channel passed to
// Make, in strict index order.
package raft

import (
	"bytes"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halvorsen/raftkv/internal/gobutil"
	"github.com/halvorsen/raftkv/internal/transport"
)

// TimingConfig holds the two independent timers this module runs. The
// heartbeat timer fires a fixed period while Leader; the election timer fires
// after a fresh random draw in [ElectionTimeoutMin, 3*ElectionTimeoutMin) and
// is reset on granting a vote, receiving a valid AppendEntries from the
// current leader, receiving a valid InstallSnapshot, and submitting a new
// command as leader.
type TimingConfig struct {
	ElectionTimeoutMin time.Duration
	HeartbeatPeriod    time.Duration
}

// DefaultTimingConfig returns the standard ~350ms election / ~50ms heartbeat timing.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ElectionTimeoutMin: 350 * time.Millisecond,
		HeartbeatPeriod:    50 * time.Millisecond,
	}
}

// Raft is one peer's consensus module. A single mutex serializes RPC handler
// bodies, timer-fired actions, reply handlers, and Start. Outbound RPCs run
// as detached goroutines that hold no lock while the network call is in
// flight and only reacquire it to process the reply.
type Raft struct {
	mu        sync.Mutex
	peers     []transport.ClientEnd
	persister Persister
	me        int
	timing    TimingConfig
	log       zerolog.Logger
	metrics   *Metrics

	// Persistent state — rewritten to disk before any reply or
	// apply that depends on it is released.
	currentTerm int
	votedFor    int // -1 means none
	raftLog     *raftLog

	// Volatile state.
	role        Role
	commitIndex int
	lastApplied int
	nextIndex   []int
	matchIndex  []int
	votesGot    int // only meaningful while role == Candidate

	applyCh      chan ApplyMsg
	pendingApply []ApplyMsg
	applySignal  chan struct{}

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	killCh chan struct{}
	killed bool
}

// GetState reports the current term and whether this peer believes it is
// leader.
func (rf *Raft) GetState() (term int, isLeader bool) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.currentTerm, rf.role == Leader
}

// Term is a single-value convenience wrapper around GetState for callers
// that only need the term.
func (rf *Raft) Term() int {
	t, _ := rf.GetState()
	return t
}

// IsLeader is a single-value convenience wrapper around GetState.
func (rf *Raft) IsLeader() bool {
	_, l := rf.GetState()
	return l
}

// RaftStateSize reports the byte size of the last persisted raft state, the
// signal the KV layer uses to decide when to snapshot.
func (rf *Raft) RaftStateSize() int {
	return rf.persister.RaftStateSize()
}

// persistLocked writes (current_term, voted_for, log tail, last_included_index,
// last_included_term) atomically via the Persister. Caller must hold rf.mu.
func (rf *Raft) persistLocked() {
	rf.persister.SaveRaftState(rf.encodeStateLocked())
}

// encodeStateLocked gob-encodes the durable record. Caller must hold rf.mu.
func (rf *Raft) encodeStateLocked() []byte {
	w := new(bytes.Buffer)
	e := gobutil.NewEncoder(w)
	_ = e.Encode(rf.currentTerm)
	_ = e.Encode(rf.votedFor)
	_ = e.Encode(rf.raftLog.entries)
	_ = e.Encode(rf.raftLog.lastIncludedIndex)
	_ = e.Encode(rf.raftLog.lastIncludedTerm)
	return w.Bytes()
}

// readPersistLocked restores durable state written by encodeStateLocked.
// Decode failures are a durability violation, not a recoverable condition
// — a corrupt on-disk record means the process cannot safely
// continue, so this panics rather than silently starting from zero state.
func (rf *Raft) readPersistLocked(data []byte) {
	if len(data) == 0 {
		return
	}
	r := bytes.NewBuffer(data)
	d := gobutil.NewDecoder(r)
	var currentTerm, votedFor, lastIncludedIndex, lastIncludedTerm int
	var entries []LogEntry
	if err := d.Decode(&currentTerm); err != nil {
		panic("raft: corrupt persisted state (current_term): " + err.Error())
	}
	if err := d.Decode(&votedFor); err != nil {
		panic("raft: corrupt persisted state (voted_for): " + err.Error())
	}
	if err := d.Decode(&entries); err != nil {
		panic("raft: corrupt persisted state (log): " + err.Error())
	}
	if err := d.Decode(&lastIncludedIndex); err != nil {
		panic("raft: corrupt persisted state (last_included_index): " + err.Error())
	}
	if err := d.Decode(&lastIncludedTerm); err != nil {
		panic("raft: corrupt persisted state (last_included_term): " + err.Error())
	}
	rf.currentTerm = currentTerm
	rf.votedFor = votedFor
	rf.raftLog.entries = entries
	rf.raftLog.lastIncludedIndex = lastIncludedIndex
	rf.raftLog.lastIncludedTerm = lastIncludedTerm
	rf.commitIndex = lastIncludedIndex
	rf.lastApplied = lastIncludedIndex
}

// resetElectionTimerLocked draws fresh randomness in
// [ElectionTimeoutMin, 3*ElectionTimeoutMin) on every reset. Caller must hold
// rf.mu.
func (rf *Raft) resetElectionTimerLocked() {
	lo := rf.timing.ElectionTimeoutMin
	span := int64(2 * lo)
	d := lo + time.Duration(rand.Int63n(span))
	if !rf.electionTimer.Stop() {
		select {
		case <-rf.electionTimer.C:
		default:
		}
	}
	rf.electionTimer.Reset(d)
}

// becomeFollowerLocked implements the universal "higher term observed"
// transition: reset to Follower in the new term, clear the vote, and let the
// caller persist once (avoids double-writing when a handler also changes
// votedFor itself).
func (rf *Raft) becomeFollowerLocked(term int) {
	rf.role = Follower
	rf.currentTerm = term
	rf.votedFor = -1
	rf.votesGot = 0
}

// Start submits cmd for replication if this peer is leader. It
// never blocks on replication completing; the caller (kvraft) is expected to
// park a waiter keyed by the returned index and term.
func (rf *Raft) Start(cmd interface{}) (index int, term int, err error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.role != Leader {
		return 0, rf.currentTerm, ErrNotLeader{}
	}

	term = rf.currentTerm
	index = rf.raftLog.append(LogEntry{Term: term, Command: cmd})
	rf.persistLocked()
	rf.resetElectionTimerLocked()
	rf.log.Debug().Int("index", index).Int("term", term).Msg("start: appended client command")
	go rf.broadcastAppendEntries()
	return index, term, nil
}

// Kill signals both timer goroutines to exit. Outstanding client waiters in
// the upper layer are not explicitly notified; they are abandoned on
// teardown.
func (rf *Raft) Kill() {
	rf.mu.Lock()
	if rf.killed {
		rf.mu.Unlock()
		return
	}
	rf.killed = true
	rf.mu.Unlock()
	close(rf.killCh)
}

// Make creates a Raft peer, restores any prior persisted state and snapshot,
// and starts its timer goroutines. It returns immediately; long-running work
// happens in background goroutines.
func Make(peers []transport.ClientEnd, me int, persister Persister, applyCh chan ApplyMsg, timing TimingConfig, logger zerolog.Logger, metrics *Metrics) *Raft {
	rf := &Raft{
		peers:       peers,
		persister:   persister,
		me:          me,
		timing:      timing,
		log:         logger.With().Int("peer", me).Logger(),
		metrics:     metrics,
		role:        Follower,
		votedFor:    -1,
		raftLog:     newRaftLog(),
		applyCh:     applyCh,
		applySignal: make(chan struct{}, 1),
		killCh:      make(chan struct{}),
	}

	rf.mu.Lock()
	rf.readPersistLocked(persister.ReadRaftState())
	rf.recoverFromSnapshotLocked(persister.ReadSnapshot())
	rf.mu.Unlock()

	rf.electionTimer = time.NewTimer(rf.timing.ElectionTimeoutMin)
	rf.heartbeatTimer = time.NewTimer(rf.timing.HeartbeatPeriod)
	rf.mu.Lock()
	rf.resetElectionTimerLocked()
	rf.mu.Unlock()

	go rf.electionLoop()
	go rf.heartbeatLoop()
	go rf.applyPump()

	return rf
}
