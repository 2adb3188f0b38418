package kvraft

import "github.com/halvorsen/raftkv/internal/raft"

// applyLoop drains the consensus module's apply channel in strict index
// order and is the only goroutine that ever touches kvStore/maxReqnoMap: the
// state machine applies committed entries in order, one at a time.
func (kv *KVServer) applyLoop() {
	for {
		select {
		case msg, ok := <-kv.applyCh:
			if !ok {
				return
			}
			kv.handleApplyMsg(msg)
		case <-kv.killCh:
			return
		}
	}
}

func (kv *KVServer) handleApplyMsg(msg raft.ApplyMsg) {
	if msg.SnapshotValid {
		kv.handleSnapshotMsg(msg)
		return
	}
	if !msg.CommandValid {
		return
	}

	op, ok := msg.Command.(Op)
	if !ok {
		kv.log.Warn().Int("index", msg.CommandIndex).Msg("apply: command is not an Op, ignoring")
		return
	}

	kv.mu.Lock()
	result := kv.applyOpLocked(op)
	kv.wakeWaiterLocked(msg.CommandIndex, result)
	shouldSnapshot := kv.maxRaftState > 0 && kv.rf.RaftStateSize() >= kv.maxRaftState
	var snapshotIndex int
	var snapshotData []byte
	if shouldSnapshot {
		snapshotIndex = msg.CommandIndex
		snapshotData = kv.encodeSnapshotLocked()
	}
	kv.mu.Unlock()

	if shouldSnapshot {
		kv.rf.Snapshot(snapshotIndex, snapshotData)
	}
}

// applyOpLocked applies op to kvStore, deduplicating by (client_name, reqno).
// A Clerk's reqno counter is shared across Get, Put, and Append, so a Get
// also advances max_reqno_map — otherwise a Get replayed
// after a later Put with a lower reqno than the Put's own would look like a
// fresh, not-yet-seen request and could be replayed out of order on retry.
// Caller must hold kv.mu.
func (kv *KVServer) applyOpLocked(op Op) waitResult {
	lastSeen := kv.maxReqnoMap[op.ClientName]
	isDup := op.Reqno <= lastSeen

	switch op.Type {
	case OpGet:
		value, present := kv.kvStore[op.Key]
		if op.Reqno > lastSeen {
			kv.maxReqnoMap[op.ClientName] = op.Reqno
		}
		if !present {
			return waitResult{err: ErrNoKey}
		}
		return waitResult{err: OK, value: value}

	case OpPut:
		if !isDup {
			kv.maxReqnoMap[op.ClientName] = op.Reqno
			kv.kvStore[op.Key] = op.Value
		}
		return waitResult{err: OK}

	case OpAppend:
		if !isDup {
			kv.maxReqnoMap[op.ClientName] = op.Reqno
			kv.kvStore[op.Key] += op.Value
		}
		return waitResult{err: OK}

	default:
		kv.log.Warn().Str("type", string(op.Type)).Msg("apply: unknown op type")
		return waitResult{err: ErrNoKey}
	}
}

// wakeWaiterLocked delivers result to the waiter parked at index, if any.
// A term mismatch between the waiter's creation term and the consensus
// module's current term means this peer lost leadership (or regained it
// under a new term) between Start and apply, so the original caller gets
// wrong_leader instead of a possibly-incorrect success. Caller must hold kv.mu.
func (kv *KVServer) wakeWaiterLocked(index int, result waitResult) {
	w, ok := kv.waiters[index]
	if !ok {
		return
	}
	delete(kv.waiters, index)

	if w.term != kv.rf.Term() {
		result = waitResult{wrongLeader: true, err: ErrStaleTerm}
	}
	select {
	case w.ch <- result:
	default:
	}
}
