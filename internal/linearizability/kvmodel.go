package linearizability

import "github.com/halvorsen/raftkv/internal/kvraft"

// KVInput is the recorded input side of one Clerk call.
type KVInput struct {
	Op    kvraft.OpType
	Key   string
	Value string
}

// KVOutput is the recorded output side of one Clerk call. Value is only
// meaningful for Get.
type KVOutput struct {
	Value string
}

// KVModel checks a recorded client history against the sequential semantics
// of Get/Put/Append: Get returns the last value written (or "" if none), Put
// replaces, Append concatenates. Partitioning by key is sound because this
// state machine never lets one key's history constrain another's ordering.
func KVModel() Model {
	return Model{
		Partition: func(history []Operation) [][]Operation {
			byKey := make(map[string][]Operation)
			for _, op := range history {
				key := op.Input.(KVInput).Key
				byKey[key] = append(byKey[key], op)
			}
			partitions := make([][]Operation, 0, len(byKey))
			for _, ops := range byKey {
				partitions = append(partitions, ops)
			}
			return partitions
		},
		Init: func() interface{} {
			return ""
		},
		Step: func(state, input, output interface{}) (bool, interface{}) {
			in := input.(KVInput)
			out := output.(KVOutput)
			st := state.(string)
			switch in.Op {
			case kvraft.OpGet:
				return out.Value == st, state
			case kvraft.OpPut:
				return true, in.Value
			case kvraft.OpAppend:
				return true, st + in.Value
			default:
				return false, state
			}
		},
		Equal: ShallowEqual,
	}
}
