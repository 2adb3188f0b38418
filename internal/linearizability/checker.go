package linearizability

import (
	"sort"
	"sync/atomic"
	"time"
)

type entryKind bool

const (
	callEntry   entryKind = false
	returnEntry entryKind = true
)

type historyEntry struct {
	kind  entryKind
	value interface{}
	id    uint
	time  int64
}

type byTime []historyEntry

func (a byTime) Len() int           { return len(a) }
func (a byTime) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byTime) Less(i, j int) bool { return a[i].time < a[j].time }

func makeHistoryEntries(history []Operation) []historyEntry {
	var entries []historyEntry
	id := uint(0)
	for _, op := range history {
		entries = append(entries, historyEntry{callEntry, op.Input, id, op.Call})
		entries = append(entries, historyEntry{returnEntry, op.Output, id, op.Return})
		id++
	}
	sort.Sort(byTime(entries))
	return entries
}

// node is a doubly linked list cell over call/return entries; checkSingle
// walks and backtracks over this list rather than the flat slice so lift and
// unlift can remove and restore a matched call/return pair in O(1).
type node struct {
	value interface{}
	match *node
	id    uint
	next  *node
	prev  *node
}

func insertBefore(n *node, mark *node) *node {
	if mark != nil {
		before := mark.prev
		mark.prev = n
		n.next = mark
		if before != nil {
			n.prev = before
			before.next = n
		}
	}
	return n
}

func length(n *node) uint {
	l := uint(0)
	for n != nil {
		n = n.next
		l++
	}
	return l
}

func makeLinkedEntries(entries []historyEntry) *node {
	var root *node
	match := make(map[uint]*node)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.kind == returnEntry {
			n := &node{value: e.value, id: e.id}
			match[e.id] = n
			insertBefore(n, root)
			root = n
		} else {
			n := &node{value: e.value, match: match[e.id], id: e.id}
			insertBefore(n, root)
			root = n
		}
	}
	return root
}

type cacheEntry struct {
	linearized bitset
	state      interface{}
}

func cacheContains(model Model, cache map[uint64][]cacheEntry, entry cacheEntry) bool {
	for _, elem := range cache[entry.linearized.hash()] {
		if entry.linearized.equals(elem.linearized) && model.Equal(entry.state, elem.state) {
			return true
		}
	}
	return false
}

type callsEntry struct {
	entry *node
	state interface{}
}

func lift(entry *node) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	match := entry.match
	match.prev.next = match.next
	if match.next != nil {
		match.next.prev = match.prev
	}
}

func unlift(entry *node) {
	match := entry.match
	match.prev.next = match
	if match.next != nil {
		match.next.prev = match
	}
	entry.prev.next = entry
	entry.next.prev = entry
}

// checkSingle runs the Wing-Gong linearization search over one partition:
// repeatedly try to commit the earliest pending call against the model,
// backtracking through calls if a dead end is reached. Memoizes visited
// (linearized-set, state) pairs to avoid re-exploring them.
func checkSingle(model Model, subhistory *node, kill *int32) bool {
	n := length(subhistory) / 2
	linearized := newBitset(n)
	cache := make(map[uint64][]cacheEntry)
	var calls []callsEntry

	state := model.Init()
	head := insertBefore(&node{value: nil, id: ^uint(0)}, subhistory)
	entry := subhistory
	for head.next != nil {
		if atomic.LoadInt32(kill) != 0 {
			return false
		}
		if entry.match != nil {
			matching := entry.match
			ok, newState := model.Step(state, entry.value, matching.value)
			if ok {
				newLinearized := linearized.clone().set(entry.id)
				candidate := cacheEntry{newLinearized, newState}
				if !cacheContains(model, cache, candidate) {
					hash := newLinearized.hash()
					cache[hash] = append(cache[hash], candidate)
					calls = append(calls, callsEntry{entry, state})
					state = newState
					linearized.set(entry.id)
					lift(entry)
					entry = head.next
				} else {
					entry = entry.next
				}
			} else {
				entry = entry.next
			}
		} else {
			if len(calls) == 0 {
				return false
			}
			top := calls[len(calls)-1]
			entry = top.entry
			state = top.state
			linearized.clear(entry.id)
			calls = calls[:len(calls)-1]
			unlift(entry)
			entry = entry.next
		}
	}
	return true
}

// CheckOperations reports whether history is linearizable against model,
// with no time bound.
func CheckOperations(model Model, history []Operation) bool {
	return CheckOperationsTimeout(model, history, 0)
}

// CheckOperationsTimeout is CheckOperations bounded by timeout; a timeout
// reports true (the check is inconclusive, not a confirmed violation) since
// a true negative here would otherwise require exhausting a search space
// that is exponential in the worst case.
func CheckOperationsTimeout(model Model, history []Operation, timeout time.Duration) bool {
	model = fillDefault(model)
	partitions := model.Partition(history)
	ok := true
	results := make(chan bool)
	kill := int32(0)
	for _, subhistory := range partitions {
		l := makeLinkedEntries(makeHistoryEntries(subhistory))
		go func() {
			results <- checkSingle(model, l, &kill)
		}()
	}

	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timeoutChan = time.After(timeout)
	}
	count := 0
loop:
	for {
		select {
		case result := <-results:
			ok = ok && result
			if !ok {
				atomic.StoreInt32(&kill, 1)
				break loop
			}
			count++
			if count >= len(partitions) {
				break loop
			}
		case <-timeoutChan:
			break loop
		}
	}
	return ok
}
