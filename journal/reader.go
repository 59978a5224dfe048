package journal

// segmentReader is a cursor over one segment's buffer. Multiple readers
// may coexist with the segment's writer; a segmentReader itself is not
// safe for concurrent use (spec §5).
//
// A reader tracks only a raw byte position into the shared mmap — it is
// never invalidated by truncate. truncate zeroes the discarded byte
// range (see writer.truncate), so a reader positioned past the new
// cursor simply finds a clean end-of-segment there, and a reader at or
// before it keeps reading straight through, including any new record a
// later append writes into the freed bytes.
type segmentReader struct {
	seg      *segment
	position int
}

// hasNext peeks the next frame without advancing.
func (r *segmentReader) hasNext() bool {
	r.seg.mu.Lock()
	defer r.seg.mu.Unlock()

	if r.seg.markedForDeletion || !r.seg.open {
		return false
	}

	_, _, err := readRecord(r.seg.mmap, r.position, nil)
	return err == nil
}

// next decodes the frame at the current position and advances. The
// returned Record's Data is copied out of the mapping so it remains
// valid after a later truncate/reset/delete invalidates the buffer.
func (r *segmentReader) next() (Record, error) {
	r.seg.mu.Lock()
	if r.seg.markedForDeletion {
		r.seg.mu.Unlock()
		return Record{}, ErrSegmentDeleted
	}
	if !r.seg.open {
		r.seg.mu.Unlock()
		return Record{}, ErrIllegalState
	}

	rec, n, err := readRecord(r.seg.mmap, r.position, nil)
	if err != nil {
		r.seg.mu.Unlock()
		if err == errEndOfSegment {
			return Record{}, errEndOfSegment
		}
		return Record{}, err
	}

	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data

	r.position += n
	r.seg.mu.Unlock()

	return rec, nil
}

// seek uses the segment's descriptor index as the floor and scans
// forward linearly to land on index; callers that have a journal-index
// entry for a closer starting position should set r.position directly
// before calling seek via seekFrom. If index exceeds the segment's
// range, seek positions the reader at the end of the valid region.
func (r *segmentReader) seek(index uint64) uint64 {
	return r.seekFrom(DescriptorSize, r.seg.desc.Index, index)
}

// seekFrom scans forward from a known (position, index) pair — typically
// a journal-index floor entry — and stops at the frame holding the
// target index, or at the end of the valid region if the target lies
// beyond it. It returns the index of the frame the reader now points at
// (startIndex itself when startIndex is already >= target).
func (r *segmentReader) seekFrom(startPos int, startIndex, target uint64) uint64 {
	r.seg.mu.Lock()
	defer r.seg.mu.Unlock()

	pos := startPos
	cur := startIndex

	for cur < target {
		_, n, err := readRecord(r.seg.mmap, pos, nil)
		if err != nil {
			break
		}
		pos += n
		cur++
	}

	r.position = pos
	return cur
}

// reset repositions the reader to just past the descriptor.
func (r *segmentReader) reset() {
	r.position = DescriptorSize
}

// close notifies the owning segment, which may trigger deferred
// deletion if this was the last outstanding reader.
func (r *segmentReader) close() error {
	return r.seg.onReaderClosed(r)
}
