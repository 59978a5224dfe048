package journal

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced across the public API. Use errors.Is to test
// for these; the internal recovery/rollover signals (segment full, end
// of segment) are unexported.
var (
	// ErrInvalidIndex is returned by AppendRecord when the supplied
	// record's index does not equal the journal's next expected index.
	ErrInvalidIndex = errors.New("journal: invalid index")

	// ErrInvalidChecksum is returned by AppendRecord when the supplied
	// record's checksum does not match CRC32(payload).
	ErrInvalidChecksum = errors.New("journal: invalid checksum")

	// ErrCorruptedLog is returned by Open when a segment at or below
	// lastWrittenIndex fails descriptor or frame validation. The journal
	// refuses to open in this state.
	ErrCorruptedLog = errors.New("journal: corrupted log")

	// ErrSegmentDeleted is returned by a reader whose owning segment was
	// deleted (by reset or compaction) since the reader was created.
	ErrSegmentDeleted = errors.New("journal: segment deleted")

	// ErrIllegalState is returned by a reader used after its owning
	// segment was closed (process shutdown), as opposed to deleted.
	ErrIllegalState = errors.New("journal: illegal reader state")

	// ErrOutOfDisk is returned by Append when honoring it would cross
	// the configured FreeDiskSpace threshold.
	ErrOutOfDisk = errors.New("journal: insufficient free disk space")

	// errSegmentFull is internal. The journal catches it, performs
	// rollover and retries once; Append/AppendRecord return it only when
	// the record does not fit even in the freshly rolled segment.
	errSegmentFull = errors.New("journal: segment full")

	// errEndOfSegment marks a clean stop when scanning frames: either
	// the frame-type marker is invalid or too few bytes remain.
	errEndOfSegment = errors.New("journal: end of segment")
)

// CorruptionError carries the location of a validation failure found
// below lastWrittenIndex, wrapped by ErrCorruptedLog.
type CorruptionError struct {
	SegmentID uint64
	Offset    int
	Index     uint64
	Err       error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corruption in segment %d at offset %d (index %d): %v",
		e.SegmentID, e.Offset, e.Index, e.Err)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruptedLog }

func newCorruption(segmentID uint64, offset int, index uint64, cause error) error {
	return errors.WithStack(&CorruptionError{SegmentID: segmentID, Offset: offset, Index: index, Err: cause})
}
