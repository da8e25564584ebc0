// Package mvarray implements the mark-delimited array format used for
// MultiValue application data.
//
// A dynamic array nests up to four levels deep. Each level is separated
// by its own reserved byte from a MarkTable:
//
//	level 0  item mark       records in a record set
//	level 1  field mark      fields of a record
//	level 2  value mark      values of a field
//	level 3  sub-value mark  sub-values of a value
//	level 4  text mark       text segments
//
// Decode only nests as deep as the data does: a field without value
// marks stays a leaf instead of becoming a one-element list.
//
//	a := mvarray.Decode(raw, mvarray.DefaultMarks, mvarray.LevelField)
//	name := a.Extract(1).String()
//	phones := a.Extract(3).StringSlice()
//
// Mark bytes are reserved. Leaves must not contain them; this is not
// checked.
package mvarray
