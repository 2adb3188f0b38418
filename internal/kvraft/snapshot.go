package kvraft

import (
	"bytes"

	"github.com/halvorsen/raftkv/internal/gobutil"
	"github.com/halvorsen/raftkv/internal/raft"
)

// snapshotPayload is the gob envelope persisted inside a raft snapshot —
// the state machine's entire visible state as of the snapshotted index.
type snapshotPayload struct {
	KVStore     map[string]string
	MaxReqnoMap map[string]int64
}

// encodeSnapshotLocked gob-encodes the current state machine contents.
// Caller must hold kv.mu.
func (kv *KVServer) encodeSnapshotLocked() []byte {
	w := new(bytes.Buffer)
	e := gobutil.NewEncoder(w)
	_ = e.Encode(snapshotPayload{KVStore: kv.kvStore, MaxReqnoMap: kv.maxReqnoMap})
	return w.Bytes()
}

// decodeSnapshot reverses encodeSnapshotLocked. A corrupt snapshot is a
// durability violation, not a recoverable condition, matching how
// internal/raft treats a corrupt persisted record.
func decodeSnapshot(data []byte) snapshotPayload {
	var payload snapshotPayload
	r := bytes.NewBuffer(data)
	d := gobutil.NewDecoder(r)
	if err := d.Decode(&payload); err != nil {
		panic("kvraft: corrupt snapshot payload: " + err.Error())
	}
	if payload.KVStore == nil {
		payload.KVStore = make(map[string]string)
	}
	if payload.MaxReqnoMap == nil {
		payload.MaxReqnoMap = make(map[string]int64)
	}
	return payload
}

// handleSnapshotMsg installs a snapshot apply message.
// CondInstallSnapshot is consulted first, honoring the consensus module's
// own view of whether this snapshot is still current — a Snapshot message
// can race with a Snapshot this peer itself just took off the back of a
// later command.
func (kv *KVServer) handleSnapshotMsg(msg raft.ApplyMsg) {
	if !kv.rf.CondInstallSnapshot(msg.SnapshotTerm, msg.SnapshotIndex, msg.Snapshot) {
		return
	}
	payload := decodeSnapshot(msg.Snapshot)

	kv.mu.Lock()
	kv.kvStore = payload.KVStore
	kv.maxReqnoMap = payload.MaxReqnoMap
	kv.mu.Unlock()

	kv.log.Debug().Int("index", msg.SnapshotIndex).Msg("installed snapshot into state machine")
}
