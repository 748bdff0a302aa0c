package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

const (
	version    byte = 1
	kindMaster byte = 1
	kindChunk  byte = 2
)

// Chunk payload compression.
const (
	CompressNone byte = 0
	CompressZstd byte = 1
)

var (
	ErrCorrupt  = errors.New("chunkstream: corrupt entry")
	ErrChecksum = errors.New("chunkstream: chunk checksum mismatch")
	magic4      = [...]byte{'C', 'S', 'T', 'M'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Checksum is the digest stored in chunk descriptors and envelopes.
func Checksum(payload []byte) uint64 { return xxhash.Sum64(payload) }

// Master: magic(4) | ver(1) | kind(1=master) | blen(u32 be) | body(blen)
func EncodeMaster(body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 4 + len(body))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindMaster)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(body)))
	buf.Write(u4[:])

	buf.Write(body)
	return buf.Bytes()
}

func DecodeMaster(b []byte) ([]byte, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindMaster {
		return nil, ErrCorrupt
	}
	blen := int(binary.BigEndian.Uint32(b[6:10]))
	if blen != len(b)-hdr {
		return nil, ErrCorrupt
	}
	return b[hdr:], nil
}

// Chunk:
//
//	magic(4) | ver(1) | kind(2=chunk) | comp(1) | sum(u64 be) | plen(u32 be) | payload(plen)
//
// sum is computed over the uncompressed payload; payload is stored as given.
type Chunk struct {
	Compression byte
	Checksum    uint64
	Payload     []byte
}

func EncodeChunk(c Chunk) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + 8 + 4 + len(c.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindChunk)
	buf.WriteByte(c.Compression)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], c.Checksum)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(c.Payload)))
	buf.Write(u4[:])

	buf.Write(c.Payload)
	return buf.Bytes()
}

func DecodeChunk(b []byte) (Chunk, error) {
	const hdr = 4 + 1 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindChunk {
		return Chunk{}, ErrCorrupt
	}
	comp := b[6]
	if comp != CompressNone && comp != CompressZstd {
		return Chunk{}, ErrCorrupt
	}
	off := 7
	sum := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen != len(b)-off { // exact length, no trailing bytes
		return Chunk{}, ErrCorrupt
	}
	return Chunk{Compression: comp, Checksum: sum, Payload: b[off:]}, nil
}
