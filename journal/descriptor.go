package journal

import (
	"encoding/binary"
	"hash/crc32"
)

// DescriptorSize is the fixed encoded length of a segment descriptor,
// written at offset 0 of every segment file.
const DescriptorSize = 32

// descriptor layout, little-endian:
//
//	[checksum:4][id:8][index:8][maxSegmentSize:4][lastIndex:8]  = 32 bytes
//
// lastIndex mirrors the descriptor cache field original_source's newer
// descriptor versions carry: it is sealed on a clean segment close (see
// segment.close) and, on the next open, recoverWriter compares it with
// what its scan recovered and logs a warning if the scan recovered less.
// It never changes which frames are fatal (that bound is
// lastWrittenIndex alone) and never lets recovery skip scanning a frame
// — every frame is still walked and validated to rebuild the journal
// index's byte offsets.
type descriptor struct {
	ID             uint64
	Index          uint64
	MaxSegmentSize uint32
	LastIndex      uint64
}

// descriptorScratchPool recycles the scratch buffer encodeDescriptor
// writes into before it is copied onto the segment's mapped region and
// discarded — the buffer never outlives writeDescriptor, unlike a
// reader's returned Record.Data, so it is safe to hand back to the pool.
var descriptorScratchPool = newBytesPool()

func encodeDescriptorInto(buf []byte, d descriptor) []byte {
	if cap(buf) < DescriptorSize {
		buf = make([]byte, DescriptorSize)
	}
	buf = buf[:DescriptorSize]
	binary.LittleEndian.PutUint64(buf[4:], d.ID)
	binary.LittleEndian.PutUint64(buf[12:], d.Index)
	binary.LittleEndian.PutUint32(buf[20:], d.MaxSegmentSize)
	binary.LittleEndian.PutUint64(buf[24:], d.LastIndex)
	crc := crc32.Checksum(buf[4:DescriptorSize], castagnoliTable)
	binary.LittleEndian.PutUint32(buf[0:], crc)
	return buf
}

func encodeDescriptor(d descriptor) []byte {
	return encodeDescriptorInto(nil, d)
}

// errDescriptorEmpty signals an all-zero descriptor region: a file
// created (and truncated to size) but never initialized.
var errDescriptorEmpty = errCorruptFrame("descriptor not initialized")

// errDescriptorInvalid signals a descriptor whose checksum does not
// match its content.
var errDescriptorInvalid = errCorruptFrame("descriptor checksum mismatch")

func readDescriptor(buf []byte) (descriptor, error) {
	if len(buf) < DescriptorSize {
		return descriptor{}, errCorruptFrame("descriptor truncated")
	}

	allZero := true
	for _, b := range buf[:DescriptorSize] {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return descriptor{}, errDescriptorEmpty
	}

	storedCRC := binary.LittleEndian.Uint32(buf[0:])
	actualCRC := crc32.Checksum(buf[4:DescriptorSize], castagnoliTable)
	if storedCRC != actualCRC {
		return descriptor{}, errDescriptorInvalid
	}

	return descriptor{
		ID:             binary.LittleEndian.Uint64(buf[4:]),
		Index:          binary.LittleEndian.Uint64(buf[12:]),
		MaxSegmentSize: binary.LittleEndian.Uint32(buf[20:]),
		LastIndex:      binary.LittleEndian.Uint64(buf[24:]),
	}, nil
}

func writeDescriptor(buf []byte, d descriptor) {
	scratch := descriptorScratchPool.get()
	*scratch = encodeDescriptorInto((*scratch)[:0], d)
	copy(buf[:DescriptorSize], *scratch)
	descriptorScratchPool.put(scratch)
}
