package mvarray

import "fmt"

// Mark indices into a MarkTable.
const (
	IM      = 0 // item (record) mark
	FM      = 1 // field mark
	VM      = 2 // value mark
	SM      = 3 // sub-value mark
	TM      = 4 // text mark
	SQLNull = 5 // SQL null marker, never used as a delimiter
)

// Nesting levels understood by Decode and Encode.
const (
	// LevelRecord splits record sets (batched ids or records) on the item mark.
	LevelRecord = IM
	// LevelField splits an ordinary dynamic array on the field mark.
	LevelField = FM

	// maxLevel is the deepest delimiter level. Content below it stays flat.
	maxLevel = TM
)

// MarkTable is the ordered set of delimiter bytes used to nest data.
// It is replaced as a unit after server negotiation, never one mark at a time.
type MarkTable [6]byte

// DefaultMarks are the marks in effect before any negotiation.
var DefaultMarks = MarkTable{0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0x80}

// NewMarkTable builds a MarkTable from exactly six distinct bytes.
func NewMarkTable(b []byte) (MarkTable, error) {
	var mt MarkTable
	if len(b) != len(mt) {
		return mt, fmt.Errorf("mvarray: mark table needs %d bytes, got %d", len(mt), len(b))
	}
	for i := range b {
		for j := i + 1; j < len(b); j++ {
			if b[i] == b[j] {
				return mt, fmt.Errorf("mvarray: duplicate mark 0x%02X at %d and %d", b[i], i, j)
			}
		}
	}
	copy(mt[:], b)
	return mt, nil
}

// Mark returns the delimiter byte for a level.
func (mt MarkTable) Mark(level int) byte {
	return mt[level]
}

// IsMark reports whether c is one of the delimiter marks (IM..TM).
func (mt MarkTable) IsMark(c byte) bool {
	for _, m := range mt[:SQLNull] {
		if m == c {
			return true
		}
	}
	return false
}

func (mt MarkTable) String() string {
	return fmt.Sprintf("IM=%02X FM=%02X VM=%02X SM=%02X TM=%02X NULL=%02X",
		mt[IM], mt[FM], mt[VM], mt[SM], mt[TM], mt[SQLNull])
}
