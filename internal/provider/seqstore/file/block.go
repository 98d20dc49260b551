package file

import (
	"encoding/binary"

	"github.com/zfair/uniqd/internal/provider/seqstore"
)

// blockSize is the on-disk size of a seqstore.Block: three u32s, one
// u64, one u64 magic — 28 bytes, 4-byte aligned. The layout is
// little-endian on the host of issue; this is a single-host format
// and agents never share it.
const blockSize = 4 + 4 + 4 + 8 + 8

func encodeBlock(b seqstore.Block) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], b.Version)
	binary.LittleEndian.PutUint32(buf[4:8], b.Label)
	binary.LittleEndian.PutUint32(buf[8:12], b.Sequence)
	binary.LittleEndian.PutUint64(buf[12:20], b.Timestamp)
	binary.LittleEndian.PutUint64(buf[20:28], b.Magic)
	return buf
}

func decodeBlock(buf []byte) (seqstore.Block, bool) {
	if len(buf) != blockSize {
		return seqstore.Block{}, false
	}
	return seqstore.Block{
		Version:   binary.LittleEndian.Uint32(buf[0:4]),
		Label:     binary.LittleEndian.Uint32(buf[4:8]),
		Sequence:  binary.LittleEndian.Uint32(buf[8:12]),
		Timestamp: binary.LittleEndian.Uint64(buf[12:20]),
		Magic:     binary.LittleEndian.Uint64(buf[20:28]),
	}, true
}
