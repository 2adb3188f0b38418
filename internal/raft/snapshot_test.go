package raft

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCondInstallSnapshotComparesTermThenIndex(t *testing.T) {
	rf := newIsolatedPeer(t)

	reply := &InstallSnapshotReply{}
	require.NoError(t, rf.InstallSnapshot(&InstallSnapshotArgs{
		Term:              1,
		LeaderId:          1,
		LastIncludedIndex: 10,
		LastIncludedTerm:  1,
		Data:              []byte("snap"),
	}, reply))

	require.False(t, rf.CondInstallSnapshot(0, 20, nil),
		"an older term never installs, regardless of index")
	require.False(t, rf.CondInstallSnapshot(1, 5, nil),
		"same term with a smaller index is already superseded")
	require.True(t, rf.CondInstallSnapshot(1, 10, nil))
	require.True(t, rf.CondInstallSnapshot(1, 15, nil))
	require.True(t, rf.CondInstallSnapshot(2, 1, nil),
		"a strictly newer term installs even at a smaller index")
}

func TestInstallSnapshotAdvancesCommitAndApplyFloor(t *testing.T) {
	rf := newIsolatedPeer(t)

	data := []byte("state-through-7")
	reply := &InstallSnapshotReply{}
	require.NoError(t, rf.InstallSnapshot(&InstallSnapshotArgs{
		Term:              2,
		LeaderId:          1,
		LastIncludedIndex: 7,
		LastIncludedTerm:  2,
		Data:              data,
	}, reply))

	rf.mu.Lock()
	require.Equal(t, 7, rf.raftLog.lastIncludedIndex)
	require.Equal(t, 2, rf.raftLog.lastIncludedTerm)
	require.Equal(t, 7, rf.commitIndex)
	require.Equal(t, 7, rf.lastApplied)
	rf.mu.Unlock()

	select {
	case msg := <-rf.applyCh:
		require.True(t, msg.SnapshotValid)
		require.Equal(t, 7, msg.SnapshotIndex)
		require.Equal(t, 2, msg.SnapshotTerm)
		require.Equal(t, data, msg.Snapshot)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot apply message never delivered")
	}
}

// TestPartitionedFollowerCatchesUpViaSnapshotInstall cuts one follower off,
// commits a batch of entries, compacts the survivors' logs, heals the
// partition, and requires the rejoining follower to be brought current by an
// InstallSnapshot followed by ordinary AppendEntries for the tail.
func TestPartitionedFollowerCatchesUpViaSnapshotInstall(t *testing.T) {
	tc := newTestCluster(t, 3)
	defer tc.kill()

	leader, _ := tc.awaitLeader(2 * time.Second)
	require.NotNil(t, leader)

	leaderIdx := -1
	for i, rf := range tc.peers {
		if rf == leader {
			leaderIdx = i
		}
	}
	followerIdx := (leaderIdx + 1) % 3
	otherIdx := (leaderIdx + 2) % 3

	for j := range tc.peers {
		if j == followerIdx {
			continue
		}
		tc.net.Disconnect(endName(followerIdx, j))
		tc.net.Disconnect(endName(j, followerIdx))
	}

	const total = 20
	const compactThrough = 15
	for i := 1; i <= total; i++ {
		index, _, err := leader.Start(fmt.Sprintf("cmd-%d", i))
		require.NoError(t, err)
		require.Equal(t, i, index)
	}

	// Wait for both connected peers to apply the whole batch, then compact
	// them both so whichever wins the post-heal election holds a snapshot.
	for _, idx := range []int{leaderIdx, otherIdx} {
		deadline := time.After(5 * time.Second)
		for applied := 0; applied < total; {
			select {
			case msg := <-tc.applyChs[idx]:
				if msg.CommandValid {
					applied = msg.CommandIndex
				}
			case <-deadline:
				t.Fatalf("peer %d never applied all %d commands", idx, total)
			}
		}
	}
	snapData := []byte("kv-state-through-15")
	tc.peers[leaderIdx].Snapshot(compactThrough, snapData)
	tc.peers[otherIdx].Snapshot(compactThrough, snapData)

	for j := range tc.peers {
		if j == followerIdx {
			continue
		}
		tc.net.Reconnect(endName(followerIdx, j))
		tc.net.Reconnect(endName(j, followerIdx))
	}

	// The follower must first see a snapshot at (or past) the compaction
	// point, then the remaining entries in strict order.
	deadline := time.After(10 * time.Second)
	sawSnapshot := false
	nextExpected := 0
	for {
		select {
		case msg := <-tc.applyChs[followerIdx]:
			switch {
			case msg.SnapshotValid:
				require.GreaterOrEqual(t, msg.SnapshotIndex, compactThrough)
				require.Equal(t, snapData, msg.Snapshot)
				sawSnapshot = true
				nextExpected = msg.SnapshotIndex + 1
			case msg.CommandValid:
				require.True(t, sawSnapshot,
					"commands covered by the snapshot must not be replayed individually")
				require.Equal(t, nextExpected, msg.CommandIndex)
				require.Equal(t, fmt.Sprintf("cmd-%d", msg.CommandIndex), msg.Command)
				nextExpected++
				if msg.CommandIndex == total {
					return
				}
			}
		case <-deadline:
			t.Fatal("rejoining follower never caught up to the cluster")
		}
	}
}
