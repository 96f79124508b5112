package ops

import "strings"

// Set is a capability set over the operation enumeration. Nodes, delegates,
// and bridges declare the operations they support as a Set computed once at
// construction; nothing probes methods at request time.
type Set uint64

// NewSet builds a set from the given operations.
func NewSet(opList ...Op) Set {
	var s Set
	for _, o := range opList {
		s = s.With(o)
	}
	return s
}

// AllOps is the set containing the whole operation enumeration.
func AllOps() Set {
	return Set(1<<uint(opCount)) - 1
}

// With returns s plus o.
func (s Set) With(o Op) Set {
	if !o.Valid() {
		return s
	}
	return s | 1<<uint(o)
}

// Without returns s minus o.
func (s Set) Without(o Op) Set {
	if !o.Valid() {
		return s
	}
	return s &^ (1 << uint(o))
}

// Has reports membership of o.
func (s Set) Has(o Op) bool {
	return o.Valid() && s&(1<<uint(o)) != 0
}

// Union returns the union of s and t.
func (s Set) Union(t Set) Set { return s | t }

// Intersect returns the intersection of s and t.
func (s Set) Intersect(t Set) Set { return s & t }

// Len returns the number of operations in the set.
func (s Set) Len() int {
	n := 0
	for s != 0 {
		s &= s - 1
		n++
	}
	return n
}

// Ops returns the members in declaration order.
func (s Set) Ops() []Op {
	out := make([]Op, 0, s.Len())
	for o := Op(0); o < opCount; o++ {
		if s.Has(o) {
			out = append(out, o)
		}
	}
	return out
}

// String lists the member operation names.
func (s Set) String() string {
	names := make([]string, 0, s.Len())
	for _, o := range s.Ops() {
		names = append(names, o.String())
	}
	return "[" + strings.Join(names, " ") + "]"
}
