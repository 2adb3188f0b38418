package raft

// Snapshot is the application-driven compaction entry point: the upper layer
// decides when (typically maxraftstate exceeded) and calls this with the
// highest index its own snapshot bytes cover.
func (rf *Raft) Snapshot(index int, snapshotData []byte) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if index <= rf.raftLog.lastIncludedIndex {
		return // already compacted at least this far
	}
	term, ok := rf.raftLog.termAt(index)
	if !ok {
		return // caller asked to snapshot an index we don't hold; ignore
	}

	rf.raftLog.compact(index, term)
	rf.persister.SaveStateAndSnapshot(rf.encodeStateLocked(), snapshotData)
	if index > rf.commitIndex {
		rf.commitIndex = index
	}
	if index > rf.lastApplied {
		rf.lastApplied = index
	}
	rf.metrics.snapshotsTaken.Inc()
	rf.log.Debug().Int("index", index).Int("term", term).Msg("compacted log via snapshot")
}

// CondInstallSnapshot is the upper layer's callback when a Snapshot apply
// message reaches its apply loop: (term, index) is install-worthy only when
// it is lexicographically at least as new as what this peer's consensus
// module already holds as (last_included_term, last_included_index) —
// strictly newer term, or an equal term with an index that hasn't been
// superseded.
func (rf *Raft) CondInstallSnapshot(term, index int, data []byte) bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if term < rf.raftLog.lastIncludedTerm {
		return false
	}
	if term == rf.raftLog.lastIncludedTerm && index < rf.raftLog.lastIncludedIndex {
		return false
	}
	return true
}

// recoverFromSnapshotLocked replays a previously persisted snapshot at
// startup, pushing it to the apply channel exactly as InstallSnapshot would
// have. Caller must hold rf.mu; the actual send happens off a goroutine so
// Make() never blocks on the upper layer's apply loop having started yet.
func (rf *Raft) recoverFromSnapshotLocked(snapshot []byte) {
	if len(snapshot) == 0 {
		return
	}
	rf.commitIndex = rf.raftLog.lastIncludedIndex
	rf.lastApplied = rf.raftLog.lastIncludedIndex
	rf.enqueueApplyLocked(ApplyMsg{
		SnapshotValid: true,
		Snapshot:      snapshot,
		SnapshotTerm:  rf.raftLog.lastIncludedTerm,
		SnapshotIndex: rf.raftLog.lastIncludedIndex,
	})
}

// InstallSnapshot is the RPC handler. The leader uses this instead of
// AppendEntries whenever a follower's required prev_log_index has fallen
// behind this peer's last_included_index (see broadcastAppendEntries).
func (rf *Raft) InstallSnapshot(args *InstallSnapshotArgs, reply *InstallSnapshotReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if args.Term < rf.currentTerm {
		reply.Term = rf.currentTerm
		return nil
	}
	if args.Term > rf.currentTerm {
		rf.becomeFollowerLocked(args.Term)
	}
	rf.resetElectionTimerLocked()
	reply.Term = rf.currentTerm

	if args.LastIncludedIndex <= rf.raftLog.lastIncludedIndex {
		rf.persistLocked()
		return nil // stale install, we've already moved at least this far
	}

	rf.raftLog.compact(args.LastIncludedIndex, args.LastIncludedTerm)
	if args.LastIncludedIndex > rf.commitIndex {
		rf.commitIndex = args.LastIncludedIndex
	}
	if args.LastIncludedIndex > rf.lastApplied {
		rf.lastApplied = args.LastIncludedIndex
	}
	rf.persister.SaveStateAndSnapshot(rf.encodeStateLocked(), args.Data)
	rf.log.Debug().Int("index", args.LastIncludedIndex).Msg("installed snapshot from leader")

	rf.enqueueApplyLocked(ApplyMsg{
		SnapshotValid: true,
		Snapshot:      args.Data,
		SnapshotTerm:  args.LastIncludedTerm,
		SnapshotIndex: args.LastIncludedIndex,
	})
	return nil
}

// sendInstallSnapshot places the RPC with no lock held, then folds the reply
// back under rf.mu.
func (rf *Raft) sendInstallSnapshot(peer int) {
	rf.mu.Lock()
	if rf.role != Leader {
		rf.mu.Unlock()
		return
	}
	args := &InstallSnapshotArgs{
		Term:              rf.currentTerm,
		LeaderId:          rf.me,
		LastIncludedIndex: rf.raftLog.lastIncludedIndex,
		LastIncludedTerm:  rf.raftLog.lastIncludedTerm,
		Data:              rf.persister.ReadSnapshot(),
	}
	rf.mu.Unlock()

	reply := &InstallSnapshotReply{}
	if !rf.peers[peer].Call("Raft.InstallSnapshot", args, reply) {
		return
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.role != Leader || rf.currentTerm != args.Term {
		return
	}
	if reply.Term > rf.currentTerm {
		rf.becomeFollowerLocked(reply.Term)
		rf.persistLocked()
		return
	}

	rf.nextIndex[peer] = args.LastIncludedIndex + 1
	rf.matchIndex[peer] = args.LastIncludedIndex
}
