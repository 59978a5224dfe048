package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		Directory:           dir,
		MaxSegmentSize:      4096,
		JournalIndexDensity: 1,
	}
}

func openTestJournal(t *testing.T, cfg Config) *Journal {
	t.Helper()
	j, err := Open(cfg, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// Scenario 1: append + read three records.
func TestJournal_AppendReadThreeRecords(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	r1, err := j.Append(1, []byte("a"))
	require.NoError(t, err)
	r2, err := j.Append(2, []byte("b"))
	require.NoError(t, err)
	r3, err := j.Append(3, []byte("c"))
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3}, []uint64{r1.Index, r2.Index, r3.Index})

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	var got []Record
	for reader.HasNext() {
		rec, err := reader.Next()
		require.NoError(t, err)
		got = append(got, rec)
	}

	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Index)
	assert.Equal(t, uint64(2), got[1].Index)
	assert.Equal(t, uint64(3), got[2].Index)
	assert.Equal(t, []byte("a"), got[0].Data)
	assert.Equal(t, []byte("c"), got[2].Data)
	assert.False(t, reader.HasNext())
}

// Scenario 2: rollover by size — a segment sized to fit exactly one
// encoded "test" record forces a second segment on the next append.
func TestJournal_RolloverBySize(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxSegmentSize = uint32(DescriptorSize + encodedSize(len("test")))
	j := openTestJournal(t, cfg)

	_, err := j.Append(1, []byte("test"))
	require.NoError(t, err)
	_, err = j.Append(2, []byte("test"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "expected two distinct segment files on disk")

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	var indexes []uint64
	for reader.HasNext() {
		rec, err := reader.Next()
		require.NoError(t, err)
		indexes = append(indexes, rec.Index)
	}
	assert.Equal(t, []uint64{1, 2}, indexes)
}

// Scenario 3: truncate then append writes to the same index.
func TestJournal_TruncateThenAppendReusesIndex(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	_, err := j.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = j.Append(2, []byte("b"))
	require.NoError(t, err)
	_, err = j.Append(3, []byte("c"))
	require.NoError(t, err)

	require.NoError(t, j.DeleteAfter(1))
	assert.Equal(t, uint64(1), j.GetLastIndex())

	rec, err := j.Append(4, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Index)

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	var indexes []uint64
	for reader.HasNext() {
		r, err := reader.Next()
		require.NoError(t, err)
		indexes = append(indexes, r.Index)
	}
	assert.Equal(t, []uint64{1, 2}, indexes)
}

// Scenario 4: compact preserves the last (active) segment.
func TestJournal_CompactPreservesLastSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxSegmentSize = uint32(DescriptorSize + 2*encodedSize(1)) // 2 records per segment
	j := openTestJournal(t, cfg)

	for i := int64(1); i <= 4; i++ {
		_, err := j.Append(i, []byte("x"))
		require.NoError(t, err)
	}

	require.NoError(t, j.DeleteUntil(5))
	assert.Equal(t, uint64(3), j.GetFirstIndex())
	assert.Equal(t, uint64(4), j.GetLastIndex())

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	require.True(t, reader.HasNext())
	rec, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Index)
}

// Scenario 5: deferred deletion — a reset with a live reader leaves the
// old segment on disk as ".log.deleted" until the reader closes.
func TestJournal_DeferredDeletion(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	_, err := j.Append(1, []byte("a"))
	require.NoError(t, err)

	reader, err := j.OpenReader()
	require.NoError(t, err)

	require.NoError(t, j.Reset(100))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var sawDeleted, sawActive bool
	for _, e := range entries {
		if isDeletedSegmentFile(e.Name(), "journal") {
			sawDeleted = true
		}
		if isSegmentFile(e.Name(), "journal") {
			sawActive = true
		}
	}
	assert.True(t, sawDeleted)
	assert.True(t, sawActive)

	require.NoError(t, reader.Close())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, isSegmentFile(entries[0].Name(), "journal"))
}

// Scenario 6: corruption at or below lastWrittenIndex is fatal;
// corruption above it is silently treated as a torn tail.
func TestJournal_CorruptionBelowLastWrittenIndexIsFatal(t *testing.T) {
	dir := t.TempDir()

	j := openTestJournal(t, testConfig(dir))
	_, err := j.Append(1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := filepath.Join(dir, "journal-0.log")
	payloadOffset := int64(DescriptorSize + frameHeaderLen + recordBodyHdr)

	f, err := os.OpenFile(path, os.O_RDWR, 0o660)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, payloadOffset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg := testConfig(dir)
	cfg.LastWrittenIndex = 1
	_, err = Open(cfg, log.NewNopLogger(), prometheus.NewRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptedLog)

	cfg2 := testConfig(dir)
	cfg2.LastWrittenIndex = 0
	j2, err := Open(cfg2, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, uint64(0), j2.GetLastIndex())
	assert.True(t, j2.IsEmpty())
}

// Property: round-tripping randomized payloads through append and read
// preserves index, asqn, checksum, and bytes.
func TestJournal_AppendReadRoundTripFuzzedPayloads(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	type fixture struct {
		asqn int64
		data string
	}

	var fixtures []fixture
	for i := 0; i < 20; i++ {
		fixtures = append(fixtures, fixture{asqn: int64(i), data: faker.Sentence()})
	}

	var appended []Record
	for _, f := range fixtures {
		rec, err := j.Append(f.asqn, []byte(f.data))
		require.NoError(t, err)
		appended = append(appended, rec)
	}

	reader, err := j.OpenReader()
	require.NoError(t, err)
	defer reader.Close()

	for i := 0; reader.HasNext(); i++ {
		rec, err := reader.Next()
		require.NoError(t, err)
		require.Less(t, i, len(appended))
		assert.Equal(t, appended[i].Index, rec.Index)
		assert.Equal(t, appended[i].ASQN, rec.ASQN)
		assert.Equal(t, appended[i].Checksum, rec.Checksum)
		assert.Equal(t, appended[i].Data, rec.Data)
	}
}

func TestJournal_AppendRecordEnforcesContiguity(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	_, err := j.AppendRecord(Record{Index: 5, ASQN: 0, Checksum: 0, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestJournal_AppendRecordEnforcesChecksum(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	_, err := j.AppendRecord(Record{Index: 1, ASQN: 0, Checksum: 0xDEADBEEF, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}

func TestJournal_IsEmptyAndFirstIndexOnFreshJournal(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	assert.True(t, j.IsEmpty())
	assert.Equal(t, uint64(1), j.GetFirstIndex())
	assert.Equal(t, uint64(0), j.GetLastIndex())
}

func TestJournal_DeleteAfterNoopWhenAtOrAboveLastIndex(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, testConfig(dir))

	_, err := j.Append(1, []byte("a"))
	require.NoError(t, err)

	require.NoError(t, j.DeleteAfter(5))
	assert.Equal(t, uint64(1), j.GetLastIndex())
}

func TestJournal_ReopenRecoversAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	j1, err := Open(cfg, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	_, err = j1.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = j1.Append(2, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(cfg, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, uint64(2), j2.GetLastIndex())

	rec, err := j2.Append(3, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Index)
}
