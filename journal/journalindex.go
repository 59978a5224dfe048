package journal

import "sort"

// indexEntry is one sparse journal-index entry: the logical index, its
// byte position within its segment, and which segment holds it.
type indexEntry struct {
	Index     uint64
	Position  int
	SegmentID uint64
}

// journalIndex is the purely in-memory sparse map {index -> position}
// described in spec §4.3, adapted from the teacher's OffsetIndex
// (storage/index.go) with its wlog-backed persistence and ticker
// dropped — this structure never survives a restart, it is rebuilt by
// Journal.Open's recovery walk.
//
// Entries are appended in strictly increasing index order (the journal
// only ever appends), so a binary search over the slice gives floor
// lookup in O(log n) without needing a balanced tree.
type journalIndex struct {
	density int
	entries []indexEntry
}

func newJournalIndex(density int) *journalIndex {
	if density < 1 {
		density = 1
	}
	return &journalIndex{density: density}
}

// indexRecord stores (index, position, segmentID) only when index is a
// density boundary or first is true (the first record of a segment is
// always indexed regardless of density, so seeks can locate an empty
// or just-rolled segment).
func (idx *journalIndex) indexRecord(index uint64, position int, segmentID uint64, first bool) {
	if !first && index%uint64(idx.density) != 0 {
		return
	}
	idx.entries = append(idx.entries, indexEntry{Index: index, Position: position, SegmentID: segmentID})
}

// lookup returns the entry with the greatest Index <= target, or false
// if no such entry exists (target below every indexed entry).
func (idx *journalIndex) lookup(target uint64) (indexEntry, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Index > target
	})
	if i == 0 {
		return indexEntry{}, false
	}
	return idx.entries[i-1], true
}

// deleteAfter removes every entry with Index > index.
func (idx *journalIndex) deleteAfter(index uint64) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Index > index
	})
	idx.entries = idx.entries[:i]
}

// deleteUntil removes every entry with Index < index.
func (idx *journalIndex) deleteUntil(index uint64) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Index >= index
	})
	idx.entries = idx.entries[i:]
}

func (idx *journalIndex) clear() {
	idx.entries = nil
}
