package value

import (
	"fmt"
	"sort"
)

// kv is one key/value pair of a Struct.
type kv struct{ key, val Value }

// Struct is an immutable mapping, the frozen counterpart of Table. Structs
// hash by content (ContentKey) rather than by identity, which is why the
// marshaller registers them for structural sharing only after their
// children have been emitted (spec §4.6). Struct has no Cmp method, so
// Equal compares two structs by identity, not by content.
type Struct struct {
	pairs []kv // sorted by key's String() for deterministic iteration/hashing
}

var _ Value = (*Struct)(nil)

// NewStruct returns a struct containing the given key/value pairs.
// Duplicate keys: the last one wins.
func NewStruct(pairs map[Value]Value) *Struct {
	s := &Struct{pairs: make([]kv, 0, len(pairs))}
	for k, v := range pairs {
		s.pairs = append(s.pairs, kv{k, v})
	}
	sort.Slice(s.pairs, func(i, j int) bool {
		return s.pairs[i].key.String() < s.pairs[j].key.String()
	})
	return s
}

func (s *Struct) String() string { return fmt.Sprintf("@struct(%d)", len(s.pairs)) }
func (s *Struct) Type() string   { return TypeStruct }
func (s *Struct) Truth() Bool    { return Bool(len(s.pairs) > 0) }
func (s *Struct) Len() int       { return len(s.pairs) }

func (s *Struct) Get(k Value) (Value, bool) {
	for _, p := range s.pairs {
		if eq, _ := Equal(p.key, k); eq {
			return p.val, true
		}
	}
	return nil, false
}

// Each iterates every (k, v) pair in sorted key order, giving a
// deterministic content hash/comparison.
func (s *Struct) Each(fn func(k, v Value)) {
	for _, p := range s.pairs {
		fn(p.key, p.val)
	}
}

// ContentKey returns a string that is equal for, and only for, two structs
// with the same content, used by the marshaller to detect an already-emitted
// equal struct (spec §4.6's "hash by content" sharing rule).
func (s *Struct) ContentKey() string {
	var b []byte
	for _, p := range s.pairs {
		b = append(b, p.key.String()...)
		b = append(b, 0)
		b = append(b, p.val.String()...)
		b = append(b, 0)
	}
	return string(b)
}
