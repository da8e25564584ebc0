package mvarray

import "bytes"

// Array is a nested MultiValue value: either a leaf byte string or an
// ordered list of Arrays. The zero value is an empty leaf.
type Array struct {
	leaf  []byte
	items []Array
	list  bool
}

// Leaf returns a leaf holding b. A nil b encodes as empty bytes.
func Leaf(b []byte) Array {
	return Array{leaf: b}
}

// String returns a leaf holding the bytes of s.
func String(s string) Array {
	return Array{leaf: []byte(s)}
}

// List returns a list of the given items.
func List(items ...Array) Array {
	if items == nil {
		items = []Array{}
	}
	return Array{items: items, list: true}
}

// Strings returns a flat list with one leaf per string.
func Strings(ss ...string) Array {
	items := make([]Array, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return List(items...)
}

// IsList reports whether a is a list rather than a leaf.
func (a Array) IsList() bool {
	return a.list
}

// Bytes returns the leaf bytes, or nil for a list.
func (a Array) Bytes() []byte {
	return a.leaf
}

// String returns the leaf as a string. Lists are flattened with the
// default marks starting at the field level.
func (a Array) String() string {
	if !a.list {
		return string(a.leaf)
	}
	return string(Encode(a, DefaultMarks, LevelField))
}

// Len returns the number of items of a list; a leaf has length 1.
func (a Array) Len() int {
	if !a.list {
		return 1
	}
	return len(a.items)
}

// Items returns the items of a list, or nil for a leaf.
func (a Array) Items() []Array {
	return a.items
}

// Index returns the i-th item (0-based). A leaf treats itself as
// item 0. Out of range returns an empty leaf and false.
func (a Array) Index(i int) (Array, bool) {
	if !a.list {
		if i == 0 {
			return a, true
		}
		return Array{}, false
	}
	if i < 0 || i >= len(a.items) {
		return Array{}, false
	}
	return a.items[i], true
}

// Extract walks a 1-based path (field, value, sub-value, ...) the way
// MultiValue EXTRACT does. Missing positions yield an empty leaf.
func (a Array) Extract(path ...int) Array {
	cur := a
	for _, p := range path {
		if p <= 0 {
			return cur
		}
		next, ok := cur.Index(p - 1)
		if !ok {
			return Array{}
		}
		cur = next
	}
	return cur
}

// Depth returns the nesting depth: 0 for a leaf, 1 for a flat list.
func (a Array) Depth() int {
	if !a.list {
		return 0
	}
	d := 0
	for _, it := range a.items {
		if id := it.Depth(); id > d {
			d = id
		}
	}
	return d + 1
}

// StringSlice returns the items of a field-level list as strings.
// Nested items are flattened with the value mark and below.
func (a Array) StringSlice() []string {
	if !a.list {
		return []string{string(a.leaf)}
	}
	out := make([]string, len(a.items))
	for i, it := range a.items {
		out[i] = string(Encode(it, DefaultMarks, VM))
	}
	return out
}

// Equal reports structural equality. Nil and empty leaves are equal.
func (a Array) Equal(b Array) bool {
	if a.list != b.list {
		return false
	}
	if !a.list {
		return bytes.Equal(a.leaf, b.leaf)
	}
	if len(a.items) != len(b.items) {
		return false
	}
	for i := range a.items {
		if !a.items[i].Equal(b.items[i]) {
			return false
		}
	}
	return true
}
