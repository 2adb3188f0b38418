// Package kvraft is the replicated key/value state machine: it consumes the
// apply stream from internal/raft, applies Put/Append/Get to an in-memory
// map, deduplicates by (client_name, reqno), and wakes per-request waiters
// parked by a leader's client-facing RPC handlers.
package kvraft

import "github.com/halvorsen/raftkv/internal/gobutil"

// OpType distinguishes the three client operations.
type OpType string

const (
	OpGet    OpType = "Get"
	OpPut    OpType = "Put"
	OpAppend OpType = "Append"
)

// Op is the command payload carried inside a raft.LogEntry.
type Op struct {
	Type       OpType
	Key        string
	Value      string
	ClientName string
	Reqno      int64
}

// Err is a human-readable outcome string carried in RPC replies.
type Err string

const (
	OK           Err = "OK"
	ErrNoKey     Err = "ErrNoKey"
	ErrStaleTerm Err = "ErrStaleTerm"
)

// GetArgs is the Get client RPC request.
type GetArgs struct {
	Key        string
	ClientName string
	Reqno      int64
}

// GetReply is the Get client RPC reply.
type GetReply struct {
	WrongLeader bool
	Err         Err
	Value       string
}

// PutAppendArgs is the PutAppend client RPC request; Op selects
// between Put and Append semantics.
type PutAppendArgs struct {
	Key        string
	Value      string
	Op         OpType
	ClientName string
	Reqno      int64
}

// PutAppendReply is the PutAppend client RPC reply.
type PutAppendReply struct {
	WrongLeader bool
	Err         Err
}

// Op travels inside raft.LogEntry.Command, an interface{} slot — both gob
// (persistence, net/rpc wire encoding) and the FakeNetwork's reflection path
// need the concrete type registered to round-trip it.
func init() {
	gobutil.Register(Op{})
}
