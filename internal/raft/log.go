package raft

// raftLog is the in-memory log tail plus the compaction boundary left behind
// by the most recent snapshot. Logical indices start at 1 and survive
// compaction; a logical index i lives at physical offset
// i - lastIncludedIndex - 1 in entries, or is unavailable because a snapshot
// already covers it.
type raftLog struct {
	entries           []LogEntry // entries[0] is logical index lastIncludedIndex+1
	lastIncludedIndex int
	lastIncludedTerm  int
}

func newRaftLog() *raftLog {
	return &raftLog{entries: nil, lastIncludedIndex: 0, lastIncludedTerm: 0}
}

// lastIndex returns the highest logical index this peer has, whether in the
// tail or as the snapshot boundary itself.
func (l *raftLog) lastIndex() int {
	return l.lastIncludedIndex + len(l.entries)
}

func (l *raftLog) lastTerm() int {
	if len(l.entries) == 0 {
		return l.lastIncludedTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// termAt implements term_at(i): the sentinel term at the snapshot boundary,
// the term of a live tail entry, or "not available"
// (ok=false) for anything before the boundary or past the end of the log.
func (l *raftLog) termAt(index int) (term int, ok bool) {
	if index == l.lastIncludedIndex {
		return l.lastIncludedTerm, true
	}
	if index < l.lastIncludedIndex || index > l.lastIndex() {
		return 0, false
	}
	return l.entries[index-l.lastIncludedIndex-1].Term, true
}

// hasPhysical reports whether index names a live entry in the tail (as
// opposed to the sentinel boundary or an out-of-range index).
func (l *raftLog) hasPhysical(index int) bool {
	return index > l.lastIncludedIndex && index <= l.lastIndex()
}

func (l *raftLog) entryAt(index int) LogEntry {
	return l.entries[index-l.lastIncludedIndex-1]
}

// append adds an entry at the end of the tail (leader append-only — this is
// the ONLY way entries enter the tail outside of AppendEntries splicing, and
// it never removes anything).
func (l *raftLog) append(entry LogEntry) int {
	l.entries = append(l.entries, entry)
	return l.lastIndex()
}

// sliceFrom returns a copy of the tail entries from logical index `from`
// (inclusive) to the end. Copying avoids aliasing rf.log's backing array into
// an outbound AppendEntriesArgs that a concurrent splice could later mutate.
func (l *raftLog) sliceFrom(from int) []LogEntry {
	if from > l.lastIndex() {
		return nil
	}
	start := from - l.lastIncludedIndex - 1
	if start < 0 {
		start = 0
	}
	out := make([]LogEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// truncateFrom discards every tail entry at or after logical index `from`,
// used when AppendEntries must splice over a conflicting suffix.
func (l *raftLog) truncateFrom(from int) {
	cut := from - l.lastIncludedIndex - 1
	if cut < 0 {
		cut = 0
	}
	if cut >= len(l.entries) {
		return
	}
	l.entries = l.entries[:cut]
}

// compact discards every physical entry up to and including logical index
// `index`, replacing it with the new snapshot boundary.
func (l *raftLog) compact(index, term int) {
	cut := index - l.lastIncludedIndex - 1
	if cut < 0 {
		cut = -1
	}
	if cut+1 >= len(l.entries) {
		l.entries = nil
	} else {
		remaining := make([]LogEntry, len(l.entries)-cut-1)
		copy(remaining, l.entries[cut+1:])
		l.entries = remaining
	}
	l.lastIncludedIndex = index
	l.lastIncludedTerm = term
}

// isAtLeastAsUpToDate implements the up-to-date comparison used to decide
// vote grants: candidate log L1 (candidateTerm, candidateIndex)
// is at least as up-to-date as this log iff its last term is strictly newer,
// or ties and its last index is not behind.
func (l *raftLog) isAtLeastAsUpToDate(candidateTerm, candidateIndex int) bool {
	myTerm, myIndex := l.lastTerm(), l.lastIndex()
	if candidateTerm != myTerm {
		return candidateTerm > myTerm
	}
	return candidateIndex >= myIndex
}
