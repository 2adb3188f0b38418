package raft

// electionLoop owns the election timer exclusively: it is the only goroutine
// that ever reads rf.electionTimer.C. Resets from elsewhere (grant a vote,
// valid AppendEntries/InstallSnapshot, Start) happen under rf.mu via
// resetElectionTimerLocked, which this loop's own Reset calls interleave
// with safely because time.Timer.Reset/Stop are not required to race with a
// concurrent receive on C once Stop's return is checked — every caller in
// this package does exactly that.
func (rf *Raft) electionLoop() {
	for {
		select {
		case <-rf.killCh:
			return
		case <-rf.electionTimer.C:
			rf.mu.Lock()
			if rf.role != Leader {
				rf.becomeCandidateLocked()
			}
			rf.resetElectionTimerLocked()
			rf.mu.Unlock()
		}
	}
}

// becomeCandidateLocked implements "Follower with expired election timer ->
// Candidate": bump the term, vote for self, persist before soliciting votes,
// then broadcast RequestVote to every other peer.
func (rf *Raft) becomeCandidateLocked() {
	rf.role = Candidate
	rf.currentTerm++
	rf.votedFor = rf.me
	rf.votesGot = 1
	rf.persistLocked()
	rf.metrics.electionsStarted.Inc()
	rf.log.Debug().Int("term", rf.currentTerm).Msg("election timer expired: becoming candidate")

	// The self-vote can already be a strict majority (single-peer cluster).
	if rf.votesGot*2 > len(rf.peers) {
		rf.becomeLeaderLocked()
		return
	}

	args := &RequestVoteArgs{
		Term:         rf.currentTerm,
		CandidateId:  rf.me,
		LastLogIndex: rf.raftLog.lastIndex(),
		LastLogTerm:  rf.raftLog.lastTerm(),
	}
	for peer := range rf.peers {
		if peer == rf.me {
			continue
		}
		go rf.sendRequestVote(peer, args)
	}
}

// RequestVote is the RPC handler. It always returns a nil
// error; net/rpc requires the signature but this layer has no transport-level
// failure mode of its own to report.
func (rf *Raft) RequestVote(args *RequestVoteArgs, reply *RequestVoteReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if args.Term < rf.currentTerm {
		reply.Term = rf.currentTerm
		reply.VoteGranted = false
		return nil
	}

	if args.Term > rf.currentTerm {
		rf.becomeFollowerLocked(args.Term)
	}
	reply.Term = rf.currentTerm
	reply.VoteGranted = false

	canVote := rf.votedFor == -1 || rf.votedFor == args.CandidateId
	if canVote && rf.raftLog.isAtLeastAsUpToDate(args.LastLogTerm, args.LastLogIndex) {
		rf.votedFor = args.CandidateId
		reply.VoteGranted = true
		rf.resetElectionTimerLocked()
		rf.log.Debug().Int("candidate", args.CandidateId).Int("term", args.Term).Msg("granting vote")
	}
	rf.persistLocked()
	return nil
}

// sendRequestVote places the RPC with no lock held, then processes the reply
// under rf.mu.
func (rf *Raft) sendRequestVote(peer int, args *RequestVoteArgs) {
	reply := &RequestVoteReply{}
	if !rf.peers[peer].Call("Raft.RequestVote", args, reply) {
		return
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.role != Candidate || rf.currentTerm != args.Term {
		return // stale reply for an election we've already left
	}
	if reply.Term > rf.currentTerm {
		rf.becomeFollowerLocked(reply.Term)
		rf.persistLocked()
		return
	}
	if !reply.VoteGranted {
		return
	}

	rf.votesGot++
	if rf.votesGot*2 <= len(rf.peers) {
		return // not yet a strict majority
	}

	rf.becomeLeaderLocked()
}

// becomeLeaderLocked implements "Candidate collecting votes from a strict
// majority -> Leader": reset per-peer replication progress and immediately
// broadcast a heartbeat to establish authority.
func (rf *Raft) becomeLeaderLocked() {
	rf.role = Leader
	rf.metrics.electionsWon.Inc()
	next := rf.raftLog.lastIndex() + 1
	rf.nextIndex = make([]int, len(rf.peers))
	rf.matchIndex = make([]int, len(rf.peers))
	for i := range rf.peers {
		rf.nextIndex[i] = next
		rf.matchIndex[i] = 0
	}
	rf.log.Info().Int("term", rf.currentTerm).Msg("won election, becoming leader")
	go rf.broadcastAppendEntries()
}
