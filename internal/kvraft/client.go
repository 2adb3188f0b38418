package kvraft

import (
	"sync"

	"github.com/google/uuid"

	"github.com/halvorsen/raftkv/internal/transport"
)

// Clerk is a client of the replicated key/value service. It addresses any
// peer, rotating to the next one whenever a reply carries wrong_leader=true
// or the RPC itself fails to land.
type Clerk struct {
	servers []transport.ClientEnd

	mu         sync.Mutex
	clientName string
	reqno      int64
	leader     int
}

// MakeClerk builds a Clerk with a fresh, globally unique client_name — the
// dedup key's other half is this Clerk's own monotonically increasing reqno.
func MakeClerk(servers []transport.ClientEnd) *Clerk {
	return &Clerk{
		servers:    servers,
		clientName: uuid.NewString(),
		leader:     0,
	}
}

func (ck *Clerk) nextReqno() int64 {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	ck.reqno++
	return ck.reqno
}

// Get fetches the current value for key, or "" if absent.
func (ck *Clerk) Get(key string) string {
	args := GetArgs{Key: key, ClientName: ck.clientName, Reqno: ck.nextReqno()}
	for {
		ck.mu.Lock()
		server := ck.servers[ck.leader]
		ck.mu.Unlock()

		reply := GetReply{}
		ok := server.Call("KVServer.Get", &args, &reply)
		if ok && !reply.WrongLeader {
			return reply.Value
		}
		ck.rotateLeader()
	}
}

// PutAppend is the shared body behind Put and Append.
func (ck *Clerk) PutAppend(key, value string, op OpType) {
	args := PutAppendArgs{Key: key, Value: value, Op: op, ClientName: ck.clientName, Reqno: ck.nextReqno()}
	for {
		ck.mu.Lock()
		server := ck.servers[ck.leader]
		ck.mu.Unlock()

		reply := PutAppendReply{}
		ok := server.Call("KVServer.PutAppend", &args, &reply)
		if ok && !reply.WrongLeader {
			return
		}
		ck.rotateLeader()
	}
}

func (ck *Clerk) Put(key, value string)    { ck.PutAppend(key, value, OpPut) }
func (ck *Clerk) Append(key, value string) { ck.PutAppend(key, value, OpAppend) }

func (ck *Clerk) rotateLeader() {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	ck.leader = (ck.leader + 1) % len(ck.servers)
}
