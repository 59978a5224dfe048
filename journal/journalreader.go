package journal

import "io"

// JournalReader is a journal-wide cursor: it holds one segment reader
// at a time and transparently advances to the next segment on
// exhaustion. A JournalReader is not safe for concurrent use, matching
// the contract of the segment reader it wraps (spec §5).
type JournalReader struct {
	j     *Journal
	cur   *segmentReader
	segID uint64
}

// OpenReader returns a journal-wide reader starting at the oldest
// surviving segment.
func (j *Journal) OpenReader() (*JournalReader, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	first := j.segments[0]
	r, err := first.createReader()
	if err != nil {
		return nil, err
	}

	return &JournalReader{j: j, cur: r, segID: first.desc.ID}, nil
}

// HasNext peeks whether another record is available, advancing across
// segment boundaries as needed.
func (jr *JournalReader) HasNext() bool {
	for {
		if jr.cur.hasNext() {
			return true
		}

		jr.j.mu.Lock()
		next, ok := jr.j.nextSegmentAfter(jr.segID)
		jr.j.mu.Unlock()
		if !ok {
			return false
		}

		newReader, err := next.createReader()
		if err != nil {
			return false
		}
		jr.cur.close()
		jr.cur = newReader
		jr.segID = next.desc.ID
	}
}

// Next decodes and returns the next record, advancing across segment
// boundaries transparently. It returns io.EOF once the journal is
// exhausted (including when a concurrent truncate discarded everything
// ahead of the reader's position), or ErrSegmentDeleted/ErrIllegalState
// if the current segment itself was deleted or closed out from under
// the reader by a concurrent compact/reset/whole-segment truncate/Close.
func (jr *JournalReader) Next() (Record, error) {
	seg := jr.cur.seg
	seg.mu.Lock()
	deleted, closed := seg.markedForDeletion, !seg.open
	seg.mu.Unlock()
	if deleted {
		return Record{}, ErrSegmentDeleted
	}
	if closed {
		return Record{}, ErrIllegalState
	}

	if !jr.HasNext() {
		return Record{}, io.EOF
	}
	return jr.cur.next()
}

// Seek repositions the reader so that the next record it returns is the
// one at the requested index (using the sparse journal index to jump
// close, then linear-scanning), and returns the index of that next
// record. For an index below the first index it lands on the first
// record; for an index past the last record it lands just after it and
// returns lastIndex+1.
func (jr *JournalReader) Seek(index uint64) (uint64, error) {
	jr.j.mu.Lock()
	entry, ok := jr.j.index.lookup(index)

	var targetSeg *segment
	var startPos int
	var startIndex uint64

	if ok {
		seg, found := jr.j.segmentByID(entry.SegmentID)
		if found {
			targetSeg = seg
			startPos = entry.Position
			startIndex = entry.Index
		}
	}
	if targetSeg == nil {
		targetSeg = jr.j.segments[0]
		startPos = DescriptorSize
		startIndex = targetSeg.desc.Index
	}
	jr.j.mu.Unlock()

	newReader, err := targetSeg.createReader()
	if err != nil {
		return 0, err
	}
	jr.cur.close()
	jr.cur = newReader
	jr.segID = targetSeg.desc.ID

	actual := jr.cur.seekFrom(startPos, startIndex, index)
	return actual, nil
}

// Close releases the current segment reader.
func (jr *JournalReader) Close() error {
	return jr.cur.close()
}
