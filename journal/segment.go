package journal

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"
)

// segment binds a descriptor, a memory-mapped buffer, one writer, and
// the set of currently open readers over that buffer — the ownership
// unit described in spec §4.6. Unmapping may happen only once open is
// false and readers is empty; delete() is therefore a two-phase
// protocol (mark, then unmap+unlink once the last reader leaves).
//
// Grounded on pandulaDW-go-distributed-service's index-mmap sequence
// (truncate the file to the desired size, then gommap.Map it
// PROT_READ|PROT_WRITE, MAP_SHARED); the teacher's own wal/journal
// packages write through bufio instead and have no equivalent.
type segment struct {
	mu sync.Mutex

	dir  string
	name string

	desc descriptor
	file *os.File
	mmap gommap.MMap

	writer  *writer
	readers map[*segmentReader]struct{}

	open              bool
	markedForDeletion bool

	flushExplicitly bool
}

// createSegment creates a brand-new segment file of maxSegmentSize
// bytes (including the descriptor), writes the descriptor, and maps it.
func createSegment(dir, name string, id, index uint64, maxSegmentSize uint32, idx *journalIndex, flushExplicitly bool) (*segment, error) {
	path := segmentFileName(dir, name, id)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o660)
	if err != nil {
		return nil, errors.Wrapf(err, "creating segment file %s", path)
	}

	if err := f.Truncate(int64(maxSegmentSize)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "sizing segment file")
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mapping segment file")
	}

	desc := descriptor{ID: id, Index: index, MaxSegmentSize: maxSegmentSize}
	writeDescriptor(m, desc)

	s := &segment{
		dir:             dir,
		name:            name,
		desc:            desc,
		file:            f,
		mmap:            m,
		readers:         make(map[*segmentReader]struct{}),
		open:            true,
		flushExplicitly: flushExplicitly,
	}
	s.writer = newWriter(m, index, id, idx)
	// the fresh segment has no frames yet; mark the first-byte
	// frame-type as invalid (zero-value from Truncate already gives us
	// this, but be explicit for clarity/robustness against sparse-file
	// surprises).
	if len(m) > DescriptorSize {
		m[DescriptorSize] = frameTypeInvalid
	}

	return s, nil
}

// openSegment maps an existing segment file whose descriptor has
// already been validated by the caller (the journal's recovery walk),
// and recovers the writer's cursor by scanning its frames.
func openSegment(dir, name string, id uint64, desc descriptor, idx *journalIndex, lastWrittenIndex uint64, flushExplicitly bool, logger log.Logger) (*segment, error) {
	path := segmentFileName(dir, name, id)

	f, err := os.OpenFile(path, os.O_RDWR, 0o660)
	if err != nil {
		return nil, errors.Wrapf(err, "opening segment file %s", path)
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mapping segment file")
	}

	w, err := recoverWriter(m, desc.Index, id, idx, lastWrittenIndex, desc.LastIndex, logger)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &segment{
		dir:             dir,
		name:            name,
		desc:            desc,
		file:            f,
		mmap:            m,
		writer:          w,
		readers:         make(map[*segmentReader]struct{}),
		open:            true,
		flushExplicitly: flushExplicitly,
	}
	return s, nil
}

// reopenAndRebuildSegment maps an existing file whose descriptor was
// found partially written (all-zero) and has no frames yet, rebuilding
// a fresh descriptor in place rather than discarding the file.
func reopenAndRebuildSegment(dir, name string, id, index uint64, maxSegmentSize uint32, idx *journalIndex, flushExplicitly bool) (*segment, error) {
	path := segmentFileName(dir, name, id)

	f, err := os.OpenFile(path, os.O_RDWR, 0o660)
	if err != nil {
		return nil, errors.Wrapf(err, "reopening segment file %s", path)
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mapping segment file")
	}

	s := &segment{
		dir:             dir,
		name:            name,
		file:            f,
		mmap:            m,
		readers:         make(map[*segmentReader]struct{}),
		open:            true,
		flushExplicitly: flushExplicitly,
	}
	s.desc = descriptor{ID: id, Index: index, MaxSegmentSize: maxSegmentSize}
	s.rebuildDescriptor(index)
	s.writer = newWriter(m, index, id, idx)

	return s, nil
}

// rebuildDescriptor overwrites a partially-written descriptor in place,
// treating the segment as brand new and empty (recovery step 4, case
// "partially-written descriptor AND last segment AND no frames").
func (s *segment) rebuildDescriptor(index uint64) {
	s.desc = descriptor{ID: s.desc.ID, Index: index, MaxSegmentSize: s.desc.MaxSegmentSize}
	writeDescriptor(s.mmap, s.desc)
	if len(s.mmap) > DescriptorSize {
		s.mmap[DescriptorSize] = frameTypeInvalid
	}
}

func (s *segment) lastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.lastIndex()
}

func (s *segment) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.isEmpty()
}

func (s *segment) flush() error {
	if !s.flushExplicitly {
		return nil
	}
	return s.mmap.Sync(gommap.MS_SYNC)
}

// createReader registers a new reader over this segment's buffer.
// Forbidden after close.
func (s *segment) createReader() (*segmentReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, errors.New("journal: cannot open a reader on a closed segment")
	}

	r := &segmentReader{
		seg:      s,
		position: DescriptorSize,
	}
	s.readers[r] = struct{}{}
	return r, nil
}

// onReaderClosed removes r from the live-reader set and, if the
// segment is marked for deletion and no readers remain, performs the
// deferred unmap+unlink.
func (s *segment) onReaderClosed(r *segmentReader) error {
	s.mu.Lock()
	delete(s.readers, r)
	shouldFinalize := s.markedForDeletion && len(s.readers) == 0
	s.mu.Unlock()

	if shouldFinalize {
		return s.finalizeDeletion()
	}
	return nil
}

// delete marks the segment for deletion and atomically, durably
// renames its file from ".log" to ".log.deleted". If readers remain,
// the bytes stay on disk (pinned) until the last one closes; otherwise
// deletion completes immediately.
func (s *segment) delete() error {
	s.mu.Lock()
	if s.markedForDeletion {
		s.mu.Unlock()
		return nil
	}
	s.markedForDeletion = true
	if s.writer != nil {
		s.writer = nil
	}
	noReaders := len(s.readers) == 0
	oldPath := segmentFileName(s.dir, s.name, s.desc.ID)
	newPath := deletedFileName(s.dir, s.name, s.desc.ID)
	s.mu.Unlock()

	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrap(err, "marking segment for deletion")
	}
	if dirErr := fsyncDir(s.dir); dirErr != nil {
		return errors.Wrap(dirErr, "syncing directory after rename")
	}

	if noReaders {
		return s.finalizeDeletion()
	}
	return nil
}

// finalizeDeletion unmaps the buffer and unlinks the ".log.deleted"
// file. Called either immediately (no readers at delete time) or from
// the last reader's Close.
func (s *segment) finalizeDeletion() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mmap != nil {
		if err := s.mmap.UnsafeUnmap(); err != nil {
			return errors.Wrap(err, "unmapping segment")
		}
		s.mmap = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.open = false

	path := deletedFileName(s.dir, s.name, s.desc.ID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing deleted segment file")
	}
	return nil
}

// close closes all readers and unmaps the buffer, without deleting the
// underlying file. On a segment with a live writer (i.e. not already
// marked for deletion), it first seals the descriptor's LastIndex so a
// later recovery scan can warn if it recovers fewer records (see
// recoverWriter).
func (s *segment) close() error {
	s.mu.Lock()
	readers := make([]*segmentReader, 0, len(s.readers))
	for r := range s.readers {
		readers = append(readers, r)
	}
	s.mu.Unlock()

	for _, r := range readers {
		r.close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mmap != nil && s.writer != nil {
		s.desc.LastIndex = s.writer.lastIndex()
		writeDescriptor(s.mmap, s.desc)
		if err := s.mmap.Sync(gommap.MS_SYNC); err != nil {
			return errors.Wrap(err, "sealing descriptor on close")
		}
	}

	if s.mmap != nil {
		if err := s.mmap.UnsafeUnmap(); err != nil {
			return errors.Wrap(err, "unmapping segment")
		}
		s.mmap = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return errors.Wrap(err, "closing segment file")
		}
		s.file = nil
	}
	s.open = false
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
