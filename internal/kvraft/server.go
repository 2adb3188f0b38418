package kvraft

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halvorsen/raftkv/internal/raft"
	"github.com/halvorsen/raftkv/internal/transport"
)

// clientWaitTimeout bounds how long a client RPC handler blocks on its
// waiter before giving up and reporting wrong_leader. There are no per-RPC
// timeouts at the consensus layer, but the KV-facing RPC surface needs one so
// a client that guessed the leader correctly, then watched it get
// partitioned, isn't stuck forever instead of rotating to another peer.
const clientWaitTimeout = 2 * time.Second

// waiter is the one-shot rendezvous created when a leader submits a client
// op, fulfilled by the apply loop at the op's log index, tagged with the
// term at which it was created so a term change before fulfillment is
// detectable.
type waiter struct {
	term int
	ch   chan waitResult
}

type waitResult struct {
	wrongLeader bool
	err         Err
	value       string
}

// KVServer is one peer's replicated key/value state machine.
type KVServer struct {
	mu  sync.Mutex
	me  int
	rf  *raft.Raft
	log zerolog.Logger

	applyCh      chan raft.ApplyMsg
	maxRaftState int // snapshot once RaftStateSize() reaches this; <=0 disables snapshotting

	kvStore     map[string]string
	maxReqnoMap map[string]int64
	waiters     map[int]*waiter

	killCh chan struct{}
}

// StartKVServer wires a Raft peer to a KVServer and starts its apply loop.
// It returns immediately.
func StartKVServer(servers []transport.ClientEnd, me int, persister raft.Persister, maxRaftState int, timing raft.TimingConfig, logger zerolog.Logger, metrics *raft.Metrics) *KVServer {
	logger = logger.With().Int("peer", me).Logger()
	applyCh := make(chan raft.ApplyMsg, 256)

	kv := &KVServer{
		me:           me,
		log:          logger,
		applyCh:      applyCh,
		maxRaftState: maxRaftState,
		kvStore:      make(map[string]string),
		maxReqnoMap:  make(map[string]int64),
		waiters:      make(map[int]*waiter),
		killCh:       make(chan struct{}),
	}
	kv.rf = raft.Make(servers, me, persister, applyCh, timing, logger, metrics)

	go kv.applyLoop()
	return kv
}

// Get handles a client Get RPC.
func (kv *KVServer) Get(args *GetArgs, reply *GetReply) error {
	op := Op{Type: OpGet, Key: args.Key, ClientName: args.ClientName, Reqno: args.Reqno}
	res := kv.submit(op)
	reply.WrongLeader = res.wrongLeader
	reply.Err = res.err
	reply.Value = res.value
	return nil
}

// PutAppend handles a client Put or Append RPC.
func (kv *KVServer) PutAppend(args *PutAppendArgs, reply *PutAppendReply) error {
	op := Op{Type: args.Op, Key: args.Key, Value: args.Value, ClientName: args.ClientName, Reqno: args.Reqno}
	res := kv.submit(op)
	reply.WrongLeader = res.wrongLeader
	reply.Err = res.err
	return nil
}

// submit implements the client RPC path: translate to an Op, call consensus
// Start, park a term-tagged waiter on success, and block on it until the
// apply loop fulfills it or clientWaitTimeout elapses.
func (kv *KVServer) submit(op Op) waitResult {
	index, term, err := kv.rf.Start(op)
	if err != nil {
		return waitResult{wrongLeader: true}
	}

	w := &waiter{term: term, ch: make(chan waitResult, 1)}
	kv.mu.Lock()
	kv.waiters[index] = w
	kv.mu.Unlock()

	select {
	case res := <-w.ch:
		return res
	case <-time.After(clientWaitTimeout):
		kv.mu.Lock()
		if kv.waiters[index] == w {
			delete(kv.waiters, index)
		}
		kv.mu.Unlock()
		return waitResult{wrongLeader: true}
	case <-kv.killCh:
		return waitResult{wrongLeader: true}
	}
}

// Raft exposes the consensus module backing this server, so a transport
// listener can register it as its own RPC service alongside KVServer.
func (kv *KVServer) Raft() *raft.Raft {
	return kv.rf
}

// Kill stops this peer's consensus module and apply loop.
func (kv *KVServer) Kill() {
	kv.rf.Kill()
	select {
	case <-kv.killCh:
	default:
		close(kv.killCh)
	}
}
