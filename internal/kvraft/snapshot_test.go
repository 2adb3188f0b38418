package kvraft

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotPayloadRoundTrips(t *testing.T) {
	kv := &KVServer{
		kvStore:     map[string]string{"a": "1", "b": "xy"},
		maxReqnoMap: map[string]int64{"client-1": 7, "client-2": 3},
	}

	payload := decodeSnapshot(kv.encodeSnapshotLocked())
	require.Equal(t, kv.kvStore, payload.KVStore)
	require.Equal(t, kv.maxReqnoMap, payload.MaxReqnoMap)
}

func TestDecodeSnapshotNormalizesNilMaps(t *testing.T) {
	kv := &KVServer{
		kvStore:     nil,
		maxReqnoMap: nil,
	}

	payload := decodeSnapshot(kv.encodeSnapshotLocked())
	require.NotNil(t, payload.KVStore, "an empty store must decode to a usable map")
	require.NotNil(t, payload.MaxReqnoMap)
}

// TestSnapshotRoundTripsAcrossClusterRestart grows the log past the
// compaction threshold, power-cycles the whole cluster, and requires both
// the store contents and the dedup table to come back from the persisted
// snapshot plus the surviving log tail.
func TestSnapshotRoundTripsAcrossClusterRestart(t *testing.T) {
	tc := NewTestClusterMaxState(3, 512)
	defer tc.Kill()

	ck := tc.Clerk()
	want := map[string]string{}
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("key-%d", i%5)
		val := fmt.Sprintf("v%d;", i)
		ck.Append(key, val)
		want[key] += val
	}

	require.Eventually(t, func() bool {
		for _, p := range tc.persisters {
			if p.SnapshotSize() > 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "growing past the threshold must trigger a snapshot")

	clientName := ck.clientName
	lastReqno := ck.reqno

	tc.restart()

	ck2 := tc.Clerk()
	for key, val := range want {
		require.Equal(t, val, ck2.Get(key))
	}

	require.Eventually(t, func() bool {
		for _, kv := range tc.servers {
			kv.mu.Lock()
			got := kv.maxReqnoMap[clientName]
			kv.mu.Unlock()
			if got == lastReqno {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "the dedup table must survive the restart")
}
