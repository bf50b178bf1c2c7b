package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a frame payload.
type Codec uint8

const (
	// None stores the payload verbatim.
	None Codec = iota
	// LZ4 uses lz4 block compression.
	LZ4
	// ZSTD uses zstandard at the default level.
	ZSTD
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

const (
	magic = 0x42464d31 // "BFM1"

	// HeaderSize is the fixed frame header length:
	// magic u32 | codec u8 | logical length u32 | stored length u32 | crc32c u32.
	HeaderSize = 4 + 1 + 4 + 4 + 4

	// maxPayload bounds a single frame payload. Blobs are capped well below
	// this by every connector's MaxBlobSize.
	maxPayload = 1 << 30
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

var (
	zstdEncPool = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedDefault),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				panic(fmt.Sprintf("frame: zstd encoder: %v", err))
			}
			return enc
		},
	}

	zstdDecPool = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("frame: zstd decoder: %v", err))
			}
			return dec
		},
	}
)

// Encode wraps payload in a frame using codec. If compression does not save
// at least 10% the payload is stored raw under the None codec.
func Encode(codec Codec, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("frame: payload %d exceeds limit", len(payload))
	}

	stored := payload
	used := None

	switch codec {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err == nil && n > 0 && n < len(payload)-len(payload)/10 {
			stored = buf[:n]
			used = LZ4
		}
	case ZSTD:
		enc := zstdEncPool.Get().(*zstd.Encoder)
		buf := enc.EncodeAll(payload, make([]byte, 0, len(payload)))
		zstdEncPool.Put(enc)
		if len(buf) < len(payload)-len(payload)/10 {
			stored = buf
			used = ZSTD
		}
	default:
		return nil, fmt.Errorf("frame: unknown codec %d", codec)
	}

	out := make([]byte, HeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	out[4] = uint8(used)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(stored)))
	binary.LittleEndian.PutUint32(out[13:17], Checksum(payload))
	copy(out[HeaderSize:], stored)
	return out, nil
}

// LogicalLen reports the uncompressed payload length recorded in a frame
// header without decoding the payload.
func LogicalLen(frame []byte) (int, error) {
	if len(frame) < HeaderSize {
		return 0, fmt.Errorf("frame: truncated header (%d bytes)", len(frame))
	}
	if binary.LittleEndian.Uint32(frame[0:4]) != magic {
		return 0, fmt.Errorf("frame: bad magic")
	}
	return int(binary.LittleEndian.Uint32(frame[5:9])), nil
}

// Decode unwraps a frame and returns the logical payload, verifying the
// checksum.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("frame: truncated header (%d bytes)", len(frame))
	}
	if binary.LittleEndian.Uint32(frame[0:4]) != magic {
		return nil, fmt.Errorf("frame: bad magic")
	}

	codec := Codec(frame[4])
	logical := int(binary.LittleEndian.Uint32(frame[5:9]))
	storedLen := int(binary.LittleEndian.Uint32(frame[9:13]))
	sum := binary.LittleEndian.Uint32(frame[13:17])

	if logical > maxPayload || storedLen > maxPayload {
		return nil, fmt.Errorf("frame: corrupt header lengths")
	}
	if len(frame)-HeaderSize != storedLen {
		return nil, fmt.Errorf("frame: stored length %d, have %d bytes", storedLen, len(frame)-HeaderSize)
	}
	stored := frame[HeaderSize:]

	var payload []byte
	switch codec {
	case None:
		if storedLen != logical {
			return nil, fmt.Errorf("frame: raw frame length mismatch")
		}
		payload = stored
	case LZ4:
		payload = make([]byte, logical)
		n, err := lz4.UncompressBlock(stored, payload)
		if err != nil {
			return nil, fmt.Errorf("frame: lz4 decompress: %w", err)
		}
		if n != logical {
			return nil, fmt.Errorf("frame: lz4 length %d, want %d", n, logical)
		}
	case ZSTD:
		dec := zstdDecPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(stored, make([]byte, 0, logical))
		zstdDecPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("frame: zstd decompress: %w", err)
		}
		if len(out) != logical {
			return nil, fmt.Errorf("frame: zstd length %d, want %d", len(out), logical)
		}
		payload = out
	default:
		return nil, fmt.Errorf("frame: unknown codec %d", codec)
	}

	if Checksum(payload) != sum {
		return nil, fmt.Errorf("frame: checksum mismatch")
	}
	return payload, nil
}
