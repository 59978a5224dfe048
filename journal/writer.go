package journal

import (
	"hash/crc32"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// writer owns the mapped buffer of one segment and the rightmost
// append cursor. It is constructed either fresh (new empty segment) or
// via recoverWriter (scanning an existing segment's frames).
type writer struct {
	buf         []byte // the segment's mmap, including the descriptor region
	position    int    // next write offset, always >= DescriptorSize
	nextIdx     uint64 // index the next append will be assigned
	descIndex   uint64 // descriptor.Index: first index this segment may hold
	index       *journalIndex
	segmentID   uint64
	sinceIndex  int // records written since the segment was created or reset, to detect "first of segment"
}

func newWriter(buf []byte, descIndex, segmentID uint64, idx *journalIndex) *writer {
	return &writer{
		buf:       buf,
		position:  DescriptorSize,
		nextIdx:   descIndex,
		descIndex: descIndex,
		segmentID: segmentID,
		index:     idx,
	}
}

func (w *writer) lastIndex() uint64 {
	if w.nextIdx == w.descIndex {
		// empty segment: "last index" is one below the first index it
		// may hold, by convention of the journal's firstIndex-1 math.
		return w.descIndex - 1
	}
	return w.nextIdx - 1
}

func (w *writer) isEmpty() bool {
	return w.nextIdx == w.descIndex
}

// append computes the checksum, writes the frame, and advances the
// cursor. Returns errSegmentFull (non-fatal, triggers rollover) if the
// encoded frame does not fit in the remaining buffer.
func (w *writer) append(asqn int64, payload []byte) (Record, error) {
	n, crc, err := writeRecord(w.buf, w.position, w.nextIdx, asqn, payload)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Index: w.nextIdx, ASQN: asqn, Checksum: crc, Data: payload}

	w.index.indexRecord(w.nextIdx, w.position, w.segmentID, w.sinceIndex == 0)
	w.sinceIndex++

	w.position += n
	w.nextIdx++

	return rec, nil
}

// appendRecord appends a caller-supplied record (the replication path).
// It enforces index contiguity and checksum validity before delegating
// to the raw frame writer.
func (w *writer) appendRecord(rec Record) (Record, error) {
	if rec.Index != w.nextIdx {
		return Record{}, ErrInvalidIndex
	}
	if expected := crc32.Checksum(rec.Data, castagnoliTable); expected != rec.Checksum {
		return Record{}, ErrInvalidChecksum
	}

	n, err := writeEncodedRecord(w.buf, w.position, rec)
	if err != nil {
		return Record{}, err
	}

	w.index.indexRecord(w.nextIdx, w.position, w.segmentID, w.sinceIndex == 0)
	w.sinceIndex++

	w.position += n
	w.nextIdx++

	return rec, nil
}

// truncate positions the cursor at the byte following the frame whose
// index == index (or at the start of the segment if index < descIndex),
// then zeroes every byte from there through the old write cursor.
//
// Zeroing the whole discarded range, rather than just the one frame-type
// byte at the new cursor, matters for outstanding readers: one may
// already be positioned anywhere in [newPos, oldPosition) from having
// read ahead before the truncate. Reading a zeroed frame-type byte at
// any such position decodes as a clean end-of-segment (readRecord),
// so a reader past the truncation point simply sees no more records,
// exactly like a reader caught up to a normal write cursor. A reader at
// or before the truncation point is untouched by the zeroing and keeps
// reading straight through, including any new record a later append
// writes into the freed bytes — the journal never hands out a distinct
// "truncated" error for this (see shouldNotReadTruncatedEntries in the
// ground-truth journal's test suite).
func (w *writer) truncate(index uint64) error {
	if index < w.descIndex {
		oldPosition := w.position
		w.resetCursor(w.descIndex)
		clear(w.buf[DescriptorSize:oldPosition])
		w.index.deleteAfter(index)
		return nil
	}

	oldPosition := w.position
	pos := DescriptorSize
	cur := w.descIndex
	for cur <= index && pos < w.position {
		_, n, err := readRecord(w.buf, pos, nil)
		if err != nil {
			break
		}
		pos += n
		cur++
	}

	w.position = pos
	w.nextIdx = cur
	clear(w.buf[pos:oldPosition])
	w.index.deleteAfter(index)
	return nil
}

// reset sets the cursor back to just past the descriptor and marks the
// segment empty, ready to accept toIndex as its first record.
func (w *writer) reset(toIndex uint64) {
	oldPosition := w.position
	w.resetCursor(toIndex)
	clear(w.buf[DescriptorSize:oldPosition])
	w.index.clear()
}

func (w *writer) resetCursor(toIndex uint64) {
	w.position = DescriptorSize
	w.nextIdx = toIndex
	w.descIndex = toIndex
	w.sinceIndex = 0
	if len(w.buf) > DescriptorSize {
		w.buf[DescriptorSize] = frameTypeInvalid
	}
}

// recoverWriter scans forward from the post-descriptor offset,
// validating each frame, and returns a writer positioned at the end of
// the valid prefix. Validation stops on an invalid frame-type (clean
// EOF), a checksum mismatch, or a non-contiguous index. In the latter
// two cases the segment is fatally corrupted (ErrCorruptedLog) if the
// failing frame's index is at or below lastWrittenIndex; otherwise the
// failure is a torn tail and the segment is silently truncated at the
// last good frame.
//
// sealedLastIndex (the descriptor's LastIndex, sealed on a prior clean
// close) is only compared with the scan's result once the scan has
// finished; the scan always starts just past the descriptor. It
// never changes which frames are fatal versus
// a torn tail, and it never lets the scan skip a frame — every frame
// is still walked and validated to rebuild the journal index's byte
// offsets, so a caller with a stale or zeroed lastWrittenIndex still
// gets the torn-tail-is-non-fatal behavior it asked for. If the hint
// looks stale — the scan recovers less than what a clean close durably
// sealed — that is logged at warn, not treated as corruption.
func recoverWriter(buf []byte, descIndex, segmentID uint64, idx *journalIndex, lastWrittenIndex, sealedLastIndex uint64, logger log.Logger) (*writer, error) {
	w := newWriter(buf, descIndex, segmentID, idx)

	pos := DescriptorSize
	cur := descIndex
	first := true

	for {
		expected := cur
		rec, n, err := readRecord(buf, pos, &expected)
		if err != nil {
			if err == errEndOfSegment {
				break
			}
			if cur <= lastWrittenIndex {
				return nil, newCorruption(segmentID, pos, cur, err)
			}
			break
		}

		idx.indexRecord(rec.Index, pos, segmentID, first)
		first = false

		pos += n
		cur++
	}

	w.position = pos
	w.nextIdx = cur
	w.sinceIndex = boolToInt(!first)

	if sealedLastIndex >= descIndex && sealedLastIndex > w.lastIndex() {
		if logger == nil {
			logger = log.NewNopLogger()
		}
		level.Warn(logger).Log("msg", "segment recovered fewer records than its sealed descriptor recorded",
			"segmentID", segmentID, "sealedLastIndex", sealedLastIndex, "recoveredLastIndex", w.lastIndex())
	}

	return w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
