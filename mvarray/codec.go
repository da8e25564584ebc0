package mvarray

import "bytes"

// Decode splits b on the mark of startLevel. A segment is decoded one
// level deeper only when the next mark actually occurs in it, so the
// result is never nested further than the data is. Levels below the
// text mark are kept as flat leaves.
//
// Leaves are copies; the result does not alias b.
func Decode(b []byte, marks MarkTable, startLevel int) Array {
	if startLevel < LevelRecord || startLevel > maxLevel {
		return Leaf(bytes.Clone(b))
	}
	return decodeLevel(b, marks, startLevel)
}

func decodeLevel(b []byte, marks MarkTable, level int) Array {
	segments := bytes.Split(b, []byte{marks[level]})
	items := make([]Array, len(segments))
	for i, seg := range segments {
		if level < maxLevel && bytes.IndexByte(seg, marks[level+1]) >= 0 {
			items[i] = decodeLevel(seg, marks, level+1)
			continue
		}
		items[i] = Leaf(cloneBytes(seg))
	}
	return List(items...)
}

// Encode joins the items of a with the mark of startLevel, encoding
// sub-lists at the next level. A leaf encodes as its raw bytes.
func Encode(a Array, marks MarkTable, startLevel int) []byte {
	var buf bytes.Buffer
	encodeLevel(&buf, a, marks, startLevel)
	return buf.Bytes()
}

func encodeLevel(buf *bytes.Buffer, a Array, marks MarkTable, level int) {
	if !a.list {
		buf.Write(a.leaf)
		return
	}
	for i, it := range a.items {
		if i > 0 {
			buf.WriteByte(marks[level])
		}
		if it.list && level < maxLevel {
			encodeLevel(buf, it, marks, level+1)
			continue
		}
		encodeLevel(buf, it, marks, level)
	}
}

// DecodeRecords decodes a record set (items separated by the item mark)
// into one Array per record.
func DecodeRecords(b []byte, marks MarkTable) []Array {
	return Decode(b, marks, LevelRecord).Items()
}

// EncodeRecords joins records with the item mark.
func EncodeRecords(records []Array, marks MarkTable) []byte {
	return Encode(List(records...), marks, LevelRecord)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
