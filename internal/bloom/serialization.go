package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Serialize encodes the filter with a snappy-compressed bit array. Format:
//   - 8 bytes: numBits (uint64, little-endian)
//   - 8 bytes: numHashes (uint64, little-endian)
//   - 8 bytes: count (uint64, little-endian)
//   - remaining: snappy(bit array, little-endian uint64 words)
func (f *Filter) Serialize() []byte {
	bitData := make([]byte, len(f.bits)*8)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(bitData[i*8:(i+1)*8], word)
	}
	compressed := snappy.Encode(nil, bitData)

	buf := make([]byte, 24+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], f.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], f.count)
	copy(buf[24:], compressed)
	return buf
}

// Deserialize reconstructs a filter from its serialized form.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 24 {
		return nil, errors.New("bloom: serialized data too short")
	}

	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if numBits == 0 || numHashes == 0 {
		return nil, errors.New("bloom: invalid filter parameters")
	}

	bitData, err := snappy.Decode(nil, data[24:])
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decompress failed: %w", err)
	}

	numWords := (numBits + 63) / 64
	if uint64(len(bitData)) < numWords*8 {
		return nil, fmt.Errorf("bloom: decompressed data too short: expected %d bytes, got %d",
			numWords*8, len(bitData))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(bitData[i*8 : (i+1)*8])
	}

	return &Filter{
		bits:      bits,
		numBits:   numBits,
		numHashes: numHashes,
		count:     count,
	}, nil
}
