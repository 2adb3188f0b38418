package raft

// The apply pipeline is an unbounded, single-writer, strictly-ordered queue:
// enqueueApplyLocked appends under rf.mu (so Command messages from
// applyLocked and Snapshot messages from InstallSnapshot never interleave out
// of order), and a single background goroutine drains it onto the external
// applyCh without ever holding rf.mu while it does — the consensus critical
// section is never held across a suspension point, here a channel send to a
// possibly-slow consumer.

// enqueueApplyLocked appends msg to the pending queue and wakes applyPump.
// Caller must hold rf.mu.
func (rf *Raft) enqueueApplyLocked(msg ApplyMsg) {
	rf.pendingApply = append(rf.pendingApply, msg)
	select {
	case rf.applySignal <- struct{}{}:
	default:
	}
}

// applyLocked emits a Command apply message for every logical index in
// (lastApplied, commitIndex], in ascending order, and advances lastApplied to
// commitIndex. Caller must hold rf.mu.
func (rf *Raft) applyLocked() {
	for i := rf.lastApplied + 1; i <= rf.commitIndex; i++ {
		entry := rf.raftLog.entryAt(i)
		rf.enqueueApplyLocked(ApplyMsg{
			CommandValid: true,
			Command:      entry.Command,
			CommandIndex: i,
		})
	}
	rf.lastApplied = rf.commitIndex
	rf.metrics.observeLocked(rf)
}

// applyPump is the sole goroutine that ever sends on rf.applyCh, draining
// pendingApply in the order entries were enqueued.
func (rf *Raft) applyPump() {
	for {
		select {
		case <-rf.killCh:
			return
		case <-rf.applySignal:
		}

		rf.mu.Lock()
		batch := rf.pendingApply
		rf.pendingApply = nil
		rf.mu.Unlock()

		for _, msg := range batch {
			select {
			case rf.applyCh <- msg:
			case <-rf.killCh:
				return
			}
		}
	}
}
