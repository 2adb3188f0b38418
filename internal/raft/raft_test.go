package raft

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen/raftkv/internal/transport"
)

// testTiming uses much shorter timers than DefaultTimingConfig so these
// tests settle in milliseconds instead of the ~350ms the production default
// targets.
func testTiming() TimingConfig {
	return TimingConfig{
		ElectionTimeoutMin: 60 * time.Millisecond,
		HeartbeatPeriod:    15 * time.Millisecond,
	}
}

type testCluster struct {
	t         *testing.T
	net       *transport.FakeNetwork
	peers     []*Raft
	applyChs  []chan ApplyMsg
	persister []*InMemoryPersister
}

func newTestCluster(t *testing.T, n int) *testCluster {
	net := transport.NewFakeNetwork()
	tc := &testCluster{t: t, net: net}

	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = serverName(i)
	}

	for i := 0; i < n; i++ {
		ends := make([]transport.ClientEnd, n)
		for j := 0; j < n; j++ {
			endName := endName(i, j)
			ends[j] = net.MakeEnd(endName)
			net.Connect(endName, names[j])
		}
		persister := NewInMemoryPersister()
		applyCh := make(chan ApplyMsg, 256)
		rf := Make(ends, i, persister, applyCh, testTiming(), zerolog.Nop(), NopMetrics())
		net.AddServer(names[i], rf)

		tc.peers = append(tc.peers, rf)
		tc.applyChs = append(tc.applyChs, applyCh)
		tc.persister = append(tc.persister, persister)
	}
	return tc
}

func serverName(i int) string { return "peer-" + string(rune('A'+i)) }
func endName(from, to int) string {
	return "end-" + string(rune('A'+from)) + "-" + string(rune('A'+to))
}

func (tc *testCluster) kill() {
	for _, rf := range tc.peers {
		rf.Kill()
	}
}

// awaitLeader polls until some peer believes itself leader and returns the
// first such peer with its term, or (nil, 0) once the deadline passes.
func (tc *testCluster) awaitLeader(deadline time.Duration) (*Raft, int) {
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		for i, rf := range tc.peers {
			if term, isLeader := rf.GetState(); isLeader {
				return tc.peers[i], term
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, 0
}

func TestElectsASingleLeader(t *testing.T) {
	tc := newTestCluster(t, 3)
	defer tc.kill()

	leader, term := tc.awaitLeader(2 * time.Second)
	require.NotNil(t, leader, "expected some peer to become leader")
	require.GreaterOrEqual(t, term, 1)

	leaders := 0
	for _, rf := range tc.peers {
		if _, isLeader := rf.GetState(); isLeader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders, "at most one leader per term")
}

func TestReplicatesCommandToAllPeers(t *testing.T) {
	tc := newTestCluster(t, 3)
	defer tc.kill()

	leader, _ := tc.awaitLeader(2 * time.Second)
	require.NotNil(t, leader)

	index, _, err := leader.Start("hello")
	require.NoError(t, err)

	for i, ch := range tc.applyChs {
		select {
		case msg := <-ch:
			require.True(t, msg.CommandValid)
			require.Equal(t, index, msg.CommandIndex)
			require.Equal(t, "hello", msg.Command)
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %d never applied the committed command", i)
		}
	}
}

func TestReelectsAfterLeaderPartition(t *testing.T) {
	tc := newTestCluster(t, 3)
	defer tc.kill()

	leader, firstTerm := tc.awaitLeader(2 * time.Second)
	require.NotNil(t, leader)

	leaderIdx := -1
	for i, rf := range tc.peers {
		if rf == leader {
			leaderIdx = i
		}
	}
	require.NotEqual(t, -1, leaderIdx)

	for j := range tc.peers {
		if j == leaderIdx {
			continue
		}
		tc.net.Disconnect(endName(leaderIdx, j))
		tc.net.Disconnect(endName(j, leaderIdx))
	}

	stop := time.Now().Add(2 * time.Second)
	var newLeader *Raft
	var newTerm int
	for time.Now().Before(stop) {
		for i, rf := range tc.peers {
			if i == leaderIdx {
				continue
			}
			if term, isLeader := rf.GetState(); isLeader && term > firstTerm {
				newLeader, newTerm = rf, term
			}
		}
		if newLeader != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, newLeader, "majority partition must elect a new leader in a higher term")
	require.Greater(t, newTerm, firstTerm)
}

func TestPersistsStateAcrossRestart(t *testing.T) {
	tc := newTestCluster(t, 3)
	defer tc.kill()

	leader, _ := tc.awaitLeader(2 * time.Second)
	require.NotNil(t, leader)
	_, _, err := leader.Start("durable-command")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	leaderIdx := -1
	for i, rf := range tc.peers {
		if rf == leader {
			leaderIdx = i
		}
	}
	savedTerm := leader.Term()
	persisted := tc.persister[leaderIdx].Copy()
	leader.Kill()

	restarted := Make(nil, leaderIdx, persisted, make(chan ApplyMsg, 16), testTiming(), zerolog.Nop(), NopMetrics())
	defer restarted.Kill()

	require.GreaterOrEqual(t, restarted.Term(), savedTerm)
	require.Equal(t, 1, restarted.raftLog.lastIndex())
}
