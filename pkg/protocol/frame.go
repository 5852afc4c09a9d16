package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Binary slice frame layout:
//
//	32 bytes  file hash (raw)
//	 4 bytes  slice index (little-endian uint32)
//	 N bytes  slice payload
const (
	// FileHashSize is the raw length of a file hash on the wire.
	FileHashSize = 32

	frameHeaderSize = FileHashSize + 4
)

// SliceFrame is one decoded binary upload frame.
type SliceFrame struct {
	FileHash [FileHashSize]byte
	Index    uint32
	Payload  []byte
}

// ParseSliceFrame decodes a binary frame. The returned payload aliases
// the input buffer.
func ParseSliceFrame(data []byte) (SliceFrame, error) {
	if len(data) < frameHeaderSize {
		return SliceFrame{}, fmt.Errorf("slice frame too short: %d bytes, need at least %d", len(data), frameHeaderSize)
	}

	var f SliceFrame
	copy(f.FileHash[:], data[:FileHashSize])
	f.Index = binary.LittleEndian.Uint32(data[FileHashSize:frameHeaderSize])
	f.Payload = data[frameHeaderSize:]
	return f, nil
}

// Encode serializes the frame into a fresh buffer.
func (f SliceFrame) Encode() []byte {
	buf := make([]byte, frameHeaderSize+len(f.Payload))
	copy(buf, f.FileHash[:])
	binary.LittleEndian.PutUint32(buf[FileHashSize:], f.Index)
	copy(buf[frameHeaderSize:], f.Payload)
	return buf
}

// HexHash returns the lowercase hex form of the file hash, as used in
// JSON envelopes.
func (f SliceFrame) HexHash() string {
	return hex.EncodeToString(f.FileHash[:])
}

// HashFromHex parses the JSON-side hex file hash back into raw bytes.
func HashFromHex(s string) ([FileHashSize]byte, error) {
	var out [FileHashSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid file hash %q: %w", s, err)
	}
	if len(raw) != FileHashSize {
		return out, fmt.Errorf("file hash must be %d bytes, got %d", FileHashSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
