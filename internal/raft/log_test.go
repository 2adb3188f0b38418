package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRaftLogAppendAndTermAt(t *testing.T) {
	l := newRaftLog()
	require.Equal(t, 0, l.lastIndex())

	idx1 := l.append(LogEntry{Term: 1, Command: "a"})
	idx2 := l.append(LogEntry{Term: 1, Command: "b"})
	idx3 := l.append(LogEntry{Term: 2, Command: "c"})

	require.Equal(t, 1, idx1)
	require.Equal(t, 2, idx2)
	require.Equal(t, 3, idx3)
	require.Equal(t, 3, l.lastIndex())
	require.Equal(t, 2, l.lastTerm())

	term, ok := l.termAt(2)
	require.True(t, ok)
	require.Equal(t, 1, term)

	_, ok = l.termAt(4)
	require.False(t, ok)
}

func TestRaftLogCompactAndTermAtBoundary(t *testing.T) {
	l := newRaftLog()
	l.append(LogEntry{Term: 1, Command: "a"})
	l.append(LogEntry{Term: 1, Command: "b"})
	l.append(LogEntry{Term: 2, Command: "c"})

	l.compact(2, 1)

	require.Equal(t, 2, l.lastIncludedIndex)
	require.Equal(t, 1, l.lastIncludedTerm)
	require.Equal(t, 3, l.lastIndex())

	term, ok := l.termAt(2)
	require.True(t, ok)
	require.Equal(t, 1, term)

	_, ok = l.termAt(1)
	require.False(t, ok, "index before the snapshot boundary must be unavailable")

	require.Equal(t, LogEntry{Term: 2, Command: "c"}, l.entryAt(3))
}

func TestRaftLogCompactEverything(t *testing.T) {
	l := newRaftLog()
	l.append(LogEntry{Term: 1, Command: "a"})
	l.compact(1, 1)

	require.Equal(t, 1, l.lastIndex())
	require.Equal(t, 0, len(l.entries))
}

func TestRaftLogTruncateFromKeepsPrefix(t *testing.T) {
	l := newRaftLog()
	l.append(LogEntry{Term: 1, Command: "a"})
	l.append(LogEntry{Term: 1, Command: "b"})
	l.append(LogEntry{Term: 2, Command: "c"})

	l.truncateFrom(2)

	require.Equal(t, 1, l.lastIndex())
	require.Equal(t, 1, l.lastTerm())
}

func TestRaftLogSliceFromCopiesAndDoesNotAlias(t *testing.T) {
	l := newRaftLog()
	l.append(LogEntry{Term: 1, Command: "a"})
	l.append(LogEntry{Term: 1, Command: "b"})

	s := l.sliceFrom(1)
	require.Len(t, s, 2)

	s[0].Command = "mutated"
	require.Equal(t, "a", l.entryAt(1).Command, "sliceFrom must return an independent copy")
}

func TestIsAtLeastAsUpToDate(t *testing.T) {
	l := newRaftLog()
	l.append(LogEntry{Term: 1, Command: "a"})
	l.append(LogEntry{Term: 2, Command: "b"})

	require.True(t, l.isAtLeastAsUpToDate(3, 0), "a strictly newer candidate term is always at least as up to date")
	require.False(t, l.isAtLeastAsUpToDate(1, 100), "an older candidate term loses regardless of index")
	require.True(t, l.isAtLeastAsUpToDate(2, 2), "same term, same index ties")
	require.False(t, l.isAtLeastAsUpToDate(2, 1), "same term, shorter candidate log loses")
}
