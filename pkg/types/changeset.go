package types

import "sort"

// Change is the old and new value of one field. Association fields carry
// *Identity values, nil meaning null.
type Change struct {
	Old any
	New any
}

// ChangeSet maps field names to their change since the last snapshot.
type ChangeSet map[string]Change

// Empty reports whether the change set holds no changes.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Fields returns the changed field names in sorted order.
func (c ChangeSet) Fields() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
