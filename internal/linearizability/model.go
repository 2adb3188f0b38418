// Package linearizability provides a generic history checker (the
// Wing-Gong/Porcupine algorithm) used by the kvraft integration tests to
// verify client-observed consistency: every recorded Get/Put/Append call must
// be explainable by some sequential order of the underlying operations
// consistent with their real-time call/return order.
package linearizability

// Operation is one recorded client call: its input, the wall-clock interval
// [Call, Return) it spans, and the output it observed.
type Operation struct {
	Input  interface{}
	Call   int64
	Output interface{}
	Return int64
}

// Model describes the sequential specification a history is checked
// against: how to partition independent sub-histories, the empty state, the
// state transition a single operation performs, and state equality.
type Model struct {
	// Partition splits history into independently checkable pieces — KVModel
	// partitions by key, since operations on different keys never interact.
	Partition func(history []Operation) [][]Operation

	// Init returns the zero state of one partition.
	Init func() interface{}

	// Step reports whether applying input to state could have produced
	// output, and if so the resulting state. Must not mutate state.
	Step func(state interface{}, input interface{}, output interface{}) (bool, interface{})

	// Equal reports whether two states are the same, for cache dedup.
	Equal func(state1, state2 interface{}) bool
}

// NoPartition treats the entire history as a single partition.
func NoPartition(history []Operation) [][]Operation {
	return [][]Operation{history}
}

// ShallowEqual compares states with ==; fine for the comparable states
// (plain strings) this package's models use.
func ShallowEqual(state1, state2 interface{}) bool {
	return state1 == state2
}

func fillDefault(model Model) Model {
	if model.Partition == nil {
		model.Partition = NoPartition
	}
	if model.Equal == nil {
		model.Equal = ShallowEqual
	}
	return model
}
