package journal

// Config enumerates the options spec §6 lists for the segmented
// journal. It follows the teacher's config.IndexOptions shape,
// expanded to the full option set this spec names.
type Config struct {
	// Directory is where segment files live. Created on Open if
	// missing.
	Directory string

	// Name is the file-name prefix for segments. Defaults to "journal".
	Name string

	// MaxSegmentSize is the size in bytes of every segment file,
	// including the 32-byte descriptor. Defaults to DefaultMaxSegmentSize.
	MaxSegmentSize uint32

	// JournalIndexDensity is the number of records between sparse
	// journal-index entries. Defaults to 1 (every record indexed).
	JournalIndexDensity int

	// LastWrittenIndex is the externally tracked acknowledged-to-
	// replication bound. Corruption at or below this index is fatal.
	LastWrittenIndex uint64

	// FlushExplicitly, when true, fsyncs (msyncs) the mapped segment
	// after every append. When false, relies on OS page writeback and
	// recovery's torn-tail tolerance.
	FlushExplicitly bool

	// FreeDiskSpace is the minimum number of bytes that must remain
	// free on the Directory's filesystem; Append fails with
	// ErrOutOfDisk when free space is already below it. Zero disables
	// the check.
	FreeDiskSpace uint64
}

// DefaultMaxSegmentSize matches the teacher's WAL default segment size.
const DefaultMaxSegmentSize = 1 << 30 // 1GiB

const defaultName = "journal"

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.JournalIndexDensity < 1 {
		c.JournalIndexDensity = 1
	}
	return c
}
