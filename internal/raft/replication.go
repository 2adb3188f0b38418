package raft

// heartbeatLoop owns the heartbeat timer. It only fires the broadcast while
// Leader; a follower or candidate lets the timer tick without effect, rather
// than stopping it, so the goroutine never has to juggle start/stop races
// against a concurrent role change.
func (rf *Raft) heartbeatLoop() {
	for {
		select {
		case <-rf.killCh:
			return
		case <-rf.heartbeatTimer.C:
			rf.mu.Lock()
			isLeader := rf.role == Leader
			rf.heartbeatTimer.Reset(rf.timing.HeartbeatPeriod)
			rf.mu.Unlock()
			if isLeader {
				rf.broadcastAppendEntries()
			}
		}
	}
}

// broadcastAppendEntries sends every peer either an AppendEntries carrying
// whatever suffix it's missing (or a bare heartbeat) or, when a peer's
// required prefix has already been snapshotted away, an InstallSnapshot
// instead.
func (rf *Raft) broadcastAppendEntries() {
	rf.mu.Lock()
	if rf.role != Leader {
		rf.mu.Unlock()
		return
	}
	term := rf.currentTerm
	lastIncludedIndex := rf.raftLog.lastIncludedIndex
	type plan struct {
		peer int
		args *AppendEntriesArgs
	}
	var plans []plan
	var snapshotPeers []int
	for peer := range rf.peers {
		if peer == rf.me {
			continue
		}
		prev := rf.nextIndex[peer] - 1
		if prev < lastIncludedIndex {
			snapshotPeers = append(snapshotPeers, peer)
			continue
		}
		prevTerm, _ := rf.raftLog.termAt(prev)
		plans = append(plans, plan{peer: peer, args: &AppendEntriesArgs{
			Term:         term,
			LeaderId:     rf.me,
			PrevLogIndex: prev,
			PrevLogTerm:  prevTerm,
			Entries:      rf.raftLog.sliceFrom(prev + 1),
			LeaderCommit: rf.commitIndex,
		}})
	}
	rf.mu.Unlock()

	for _, p := range plans {
		go rf.sendAppendEntries(p.peer, p.args)
	}
	for _, peer := range snapshotPeers {
		go rf.sendInstallSnapshot(peer)
	}
}

// AppendEntries is the RPC handler.
func (rf *Raft) AppendEntries(args *AppendEntriesArgs, reply *AppendEntriesReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if args.Term < rf.currentTerm {
		reply.Term = rf.currentTerm
		reply.Success = false
		reply.ConflictIndex = 0
		return nil
	}

	if args.Term > rf.currentTerm || (rf.role == Candidate && args.Term == rf.currentTerm) {
		rf.becomeFollowerLocked(args.Term)
	}
	rf.resetElectionTimerLocked()
	reply.Term = rf.currentTerm

	lastLogIndex := rf.raftLog.lastIndex()
	t, ok := rf.raftLog.termAt(args.PrevLogIndex)
	matches := ok && t == args.PrevLogTerm

	if !matches {
		reply.Success = false
		switch {
		case lastLogIndex < args.PrevLogIndex:
			reply.ConflictIndex = lastLogIndex + 1
		case ok:
			conflictTerm := t
			idx := args.PrevLogIndex
			for idx > rf.raftLog.lastIncludedIndex {
				prevTerm, _ := rf.raftLog.termAt(idx - 1)
				if prevTerm != conflictTerm {
					break
				}
				idx--
			}
			reply.ConflictIndex = idx
		default:
			reply.ConflictIndex = 0
		}
		rf.persistLocked()
		return nil
	}

	// Splice: find the first incoming entry whose index either runs past our
	// log or disagrees in term, and only touch the tail from there — a fully
	// matching AppendEntries leaves the log untouched so a delayed, reordered
	// duplicate can never roll back a suffix some other peer already
	// committed.
	conflictAt := -1
	for i, entry := range args.Entries {
		idx := args.PrevLogIndex + 1 + i
		if idx > lastLogIndex {
			conflictAt = i
			break
		}
		existingTerm, _ := rf.raftLog.termAt(idx)
		if existingTerm != entry.Term {
			conflictAt = i
			break
		}
	}
	if conflictAt >= 0 {
		spliceIndex := args.PrevLogIndex + 1 + conflictAt
		rf.raftLog.truncateFrom(spliceIndex)
		rf.raftLog.entries = append(rf.raftLog.entries, args.Entries[conflictAt:]...)
	}
	rf.persistLocked()

	reply.Success = true
	reply.ConflictIndex = 0

	if args.LeaderCommit > rf.commitIndex {
		newCommit := args.LeaderCommit
		if last := rf.raftLog.lastIndex(); last < newCommit {
			newCommit = last
		}
		rf.commitIndex = newCommit
		rf.applyLocked()
	}
	return nil
}

// sendAppendEntries places the RPC with no lock held, then folds the reply
// back into consensus state under rf.mu.
func (rf *Raft) sendAppendEntries(peer int, args *AppendEntriesArgs) {
	reply := &AppendEntriesReply{}
	if !rf.peers[peer].Call("Raft.AppendEntries", args, reply) {
		return
	}
	nextIndexOnSuccess := args.PrevLogIndex + len(args.Entries) + 1

	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.role != Leader || rf.currentTerm != args.Term {
		return // reply for a term/role we've already left
	}
	if reply.Term > rf.currentTerm {
		rf.becomeFollowerLocked(reply.Term)
		rf.persistLocked()
		return
	}

	if reply.Success {
		rf.nextIndex[peer] = nextIndexOnSuccess
		rf.matchIndex[peer] = nextIndexOnSuccess - 1
		rf.advanceCommitLocked()
		return
	}

	if reply.ConflictIndex > 0 {
		rf.nextIndex[peer] = reply.ConflictIndex
	} else if rf.nextIndex[peer] > 1 {
		rf.nextIndex[peer]--
	}
}

// advanceCommitLocked implements the commit-advancement rule: the largest
// N > commitIndex, with N <= lastLogIndex, a strict majority (including
// self) at match_index >= N, AND term_at(N) == currentTerm. The current-term
// restriction is load-bearing — committing a prior-term entry by match count
// alone can undo it after a leader change; it is only safe once a
// current-term entry at a higher index is committed alongside it.
func (rf *Raft) advanceCommitLocked() {
	lastLogIndex := rf.raftLog.lastIndex()
	for n := lastLogIndex; n > rf.commitIndex; n-- {
		term, ok := rf.raftLog.termAt(n)
		if !ok || term != rf.currentTerm {
			continue
		}
		count := 1 // self
		for peer := range rf.peers {
			if peer != rf.me && rf.matchIndex[peer] >= n {
				count++
			}
		}
		if count*2 > len(rf.peers) {
			rf.commitIndex = n
			rf.applyLocked()
			return
		}
	}
}
