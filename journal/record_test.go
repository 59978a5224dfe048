package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRecordRoundTrip(t *testing.T) {
	buf := make([]byte, 256)

	n, crc, err := writeRecord(buf, 0, 7, 42, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, n > 0)

	rec, readN, err := readRecord(buf, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, n, readN)
	assert.Equal(t, uint64(7), rec.Index)
	assert.Equal(t, int64(42), rec.ASQN)
	assert.Equal(t, crc, rec.Checksum)
	assert.Equal(t, []byte("hello"), rec.Data)
}

func TestReadRecordEndOfSegment(t *testing.T) {
	buf := make([]byte, 256) // all zero: frame-type byte is the invalid marker

	_, _, err := readRecord(buf, 0, nil)
	assert.ErrorIs(t, err, errEndOfSegment)
}

func TestReadRecordChecksumMismatch(t *testing.T) {
	buf := make([]byte, 256)

	_, _, err := writeRecord(buf, 0, 1, 0, []byte("payload"))
	require.NoError(t, err)

	// flip a payload byte without touching the stored checksum
	payloadStart := frameHeaderLen + recordBodyHdr
	buf[payloadStart] ^= 0xFF

	_, _, err = readRecord(buf, 0, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errEndOfSegment)
}

func TestReadRecordExpectedIndexMismatch(t *testing.T) {
	buf := make([]byte, 256)

	_, _, err := writeRecord(buf, 0, 5, 0, []byte("x"))
	require.NoError(t, err)

	wrong := uint64(6)
	_, _, err = readRecord(buf, 0, &wrong)
	require.Error(t, err)
}

func TestWriteRecordSegmentFull(t *testing.T) {
	buf := make([]byte, 10) // too small for any frame

	_, _, err := writeRecord(buf, 0, 1, 0, []byte("payload"))
	assert.ErrorIs(t, err, errSegmentFull)
}

func TestWriteEncodedRecordMatchesWriteRecord(t *testing.T) {
	buf1 := make([]byte, 256)
	buf2 := make([]byte, 256)

	_, crc, err := writeRecord(buf1, 0, 3, 9, []byte("same bytes"))
	require.NoError(t, err)

	rec := Record{Index: 3, ASQN: 9, Checksum: crc, Data: []byte("same bytes")}
	n2, err := writeEncodedRecord(buf2, 0, rec)
	require.NoError(t, err)

	_, n1, err := readRecord(buf1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, buf1[:n1], buf2[:n2])
}
