package raft

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Persister is the external collaborator that durably stores consensus
// state: it must atomically replace the durable (raft-state, snapshot) pair,
// and empty bytes mean "no prior state." Both SaveRaftState and
// SaveStateAndSnapshot are atomic with respect to a concurrent Read*.
type Persister interface {
	ReadRaftState() []byte
	RaftStateSize() int
	SaveRaftState(state []byte)
	SaveStateAndSnapshot(state []byte, snapshot []byte)
	ReadSnapshot() []byte
	SnapshotSize() int
}

// InMemoryPersister keeps state only for the life of the process; it backs
// the raft/kvraft test suites, which only ever need this one, in-memory,
// shape.
type InMemoryPersister struct {
	mu        sync.Mutex
	raftstate []byte
	snapshot  []byte
}

func NewInMemoryPersister() *InMemoryPersister {
	return &InMemoryPersister{}
}

// Copy returns an independent snapshot of the current state, handy for tests
// that crash-restart a peer against a frozen view of its prior disk image.
func (ps *InMemoryPersister) Copy() *InMemoryPersister {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	np := NewInMemoryPersister()
	np.raftstate = ps.raftstate
	np.snapshot = ps.snapshot
	return np
}

func (ps *InMemoryPersister) ReadRaftState() []byte {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.raftstate
}

func (ps *InMemoryPersister) RaftStateSize() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.raftstate)
}

func (ps *InMemoryPersister) SaveRaftState(state []byte) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.raftstate = state
}

func (ps *InMemoryPersister) SaveStateAndSnapshot(state []byte, snapshot []byte) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.raftstate = state
	ps.snapshot = snapshot
}

func (ps *InMemoryPersister) ReadSnapshot() []byte {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.snapshot
}

func (ps *InMemoryPersister) SnapshotSize() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.snapshot)
}

var (
	boltRaftStateBucket = []byte("raftstate")
	boltSnapshotBucket  = []byte("snapshot")
	boltSingletonKey    = []byte("current")
)

// BoltPersister backs a peer's durable state with a bbolt file on disk, so a
// restarted node recovers the same (current_term, voted_for, log,
// last_included_index, last_included_term) it had before, instead of
// starting from a blank slate the way InMemoryPersister does between test
// runs.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBoltPersister opens (creating if absent) a bbolt database at path and
// provisions the two buckets this persister needs.
func OpenBoltPersister(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("raft: open persister db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltRaftStateBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltSnapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("raft: provision persister buckets: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

func (p *BoltPersister) Close() error {
	return p.db.Close()
}

func (p *BoltPersister) readBucket(name []byte) []byte {
	var out []byte
	_ = p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(name).Get(boltSingletonKey)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out
}

func (p *BoltPersister) ReadRaftState() []byte {
	return p.readBucket(boltRaftStateBucket)
}

func (p *BoltPersister) RaftStateSize() int {
	return len(p.ReadRaftState())
}

func (p *BoltPersister) SaveRaftState(state []byte) {
	_ = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltRaftStateBucket).Put(boltSingletonKey, state)
	})
}

// SaveStateAndSnapshot replaces both values inside a single bbolt
// transaction, so a reader never observes one updated without the other.
func (p *BoltPersister) SaveStateAndSnapshot(state []byte, snapshot []byte) {
	_ = p.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltRaftStateBucket).Put(boltSingletonKey, state); err != nil {
			return err
		}
		return tx.Bucket(boltSnapshotBucket).Put(boltSingletonKey, snapshot)
	})
}

func (p *BoltPersister) ReadSnapshot() []byte {
	return p.readBucket(boltSnapshotBucket)
}

func (p *BoltPersister) SnapshotSize() int {
	return len(p.ReadSnapshot())
}
