package node

import (
	"bytes"
	"sort"

	"dynamocore/internal/vclock"
)

// StoredValue is the sibling-set-plus-context record kept per key.
type StoredValue struct {
	Payloads [][]byte
	Context  vclock.Ctx
}

// sortUniquePayloads returns the deduplicated, lexically sorted union of two
// payload sets.
func sortUniquePayloads(a, b [][]byte) [][]byte {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([][]byte, 0, len(a)+len(b))
	add := func(p [][]byte) {
		for _, v := range p {
			k := string(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	add(a)
	add(b)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// mergeValues reconciles two (payloads, ctx) pairs according to their
// causal relationship.
func mergeValues(v1 StoredValue, v2 StoredValue) StoredValue {
	switch vclock.CompareCtx(v1.Context, v2.Context) {
	case vclock.Before:
		return v2
	case vclock.After:
		return v1
	default:
		return StoredValue{
			Payloads: sortUniquePayloads(v1.Payloads, v2.Payloads),
			Context:  vclock.CombineCtx(v1.Context, v2.Context),
		}
	}
}

// localPut stores a key as-is if absent, else reconciles the incoming
// value with the existing entry via mergeValues.
func (nd *Node) localPut(key string, payloads [][]byte, ctx vclock.Ctx) {
	incoming := StoredValue{Payloads: payloads, Context: ctx}
	existing, ok := nd.store[key]
	if !ok {
		nd.store[key] = incoming
		return
	}
	nd.store[key] = mergeValues(existing, incoming)
}
