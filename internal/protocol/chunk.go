package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeongseonghan/audio-modem/internal/fec"
)

// Tag bytes for the streaming chunk payload shapes. These are carried
// as the raw demodulated byte image of an OFDM frame, not wrapped in a
// link-layer Frame (spec §3) — the receiver branches on the first byte
// before trying to parse a legacy packet.
const (
	TagMetadata  byte = 0xFE
	TagDataChunk byte = 0xFF
)

const (
	// MaxChunkNameLen caps the file name so it can never collide with a
	// tag byte when read back as a legacy-packet name length prefix.
	MaxChunkNameLen = 253
	MaxChunkSize    = 0xFFFF
)

var (
	ErrMetadataTooShort  = errors.New("protocol: metadata payload too short")
	ErrDataChunkTooShort = errors.New("protocol: data chunk payload too short")
	ErrNameTooLong       = errors.New("protocol: chunk file name too long")
	ErrChunkSizeTooLarge = errors.New("protocol: chunk size exceeds 65535")
	ErrZeroChunks        = errors.New("protocol: totalChunks must be nonzero")
	ErrBadTag            = errors.New("protocol: payload does not start with a chunk tag")
)

// ChunkMetadata is the decoded form of a METADATA payload (spec §3).
type ChunkMetadata struct {
	TotalChunks   uint32
	TotalFileSize uint32
	ChunkSize     uint16
	Name          string
	CRCValid      bool
}

// DataChunk is the decoded form of a DATA_CHUNK payload (spec §3).
type DataChunk struct {
	SeqNum   uint32
	Data     []byte
	CRCValid bool
}

// EncodeMetadata builds a METADATA payload: tag, totalChunks (u32 BE),
// totalFileSize (u32 BE), chunkSize (u16 BE), nameLen (u8), name, then a
// CRC-32 over every preceding byte including the tag.
func EncodeMetadata(totalChunks, totalFileSize uint32, chunkSize uint16, name string) ([]byte, error) {
	if totalChunks == 0 {
		return nil, ErrZeroChunks
	}
	if chunkSize > MaxChunkSize {
		return nil, ErrChunkSizeTooLarge
	}
	nameBytes := []byte(name)
	if len(nameBytes) > MaxChunkNameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(nameBytes))
	}

	body := make([]byte, 1+4+4+2+1+len(nameBytes))
	body[0] = TagMetadata
	binary.BigEndian.PutUint32(body[1:5], totalChunks)
	binary.BigEndian.PutUint32(body[5:9], totalFileSize)
	binary.BigEndian.PutUint16(body[9:11], chunkSize)
	body[11] = byte(len(nameBytes))
	copy(body[12:], nameBytes)

	return fec.AppendCRC32(body), nil
}

// DecodeMetadata parses a METADATA payload. It never fails on a CRC
// mismatch — the assembler wants to see a flagged-invalid result and
// count it (spec §4.G) — but it does fail on a structurally short or
// truncated payload, since there is nothing sensible to report then.
func DecodeMetadata(data []byte) (*ChunkMetadata, error) {
	if len(data) < 1+4+4+2+1+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetadataTooShort, len(data))
	}
	if data[0] != TagMetadata {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadTag, data[0])
	}

	nameLen := int(data[11])
	need := 12 + nameLen + 4
	if len(data) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrMetadataTooShort, len(data), need)
	}

	body, ok := fec.VerifyCRC32(data[:need])

	return &ChunkMetadata{
		TotalChunks:   binary.BigEndian.Uint32(data[1:5]),
		TotalFileSize: binary.BigEndian.Uint32(data[5:9]),
		ChunkSize:     binary.BigEndian.Uint16(data[9:11]),
		Name:          string(data[12 : 12+nameLen]),
		CRCValid:      ok && len(body) == need-4,
	}, nil
}

// EncodeDataChunk builds a DATA_CHUNK payload: tag, seqNum (u32 BE),
// dataLen (u16 BE), data, then a CRC-32 over every preceding byte.
func EncodeDataChunk(seqNum uint32, data []byte) ([]byte, error) {
	if len(data) > MaxChunkSize {
		return nil, ErrChunkSizeTooLarge
	}

	body := make([]byte, 1+4+2+len(data))
	body[0] = TagDataChunk
	binary.BigEndian.PutUint32(body[1:5], seqNum)
	binary.BigEndian.PutUint16(body[5:7], uint16(len(data)))
	copy(body[7:], data)

	return fec.AppendCRC32(body), nil
}

// DecodeDataChunk parses a DATA_CHUNK payload, same CRC policy as
// DecodeMetadata: a flagged-invalid result, not an error, on CRC
// failure.
func DecodeDataChunk(data []byte) (*DataChunk, error) {
	if len(data) < 1+4+2+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataChunkTooShort, len(data))
	}
	if data[0] != TagDataChunk {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadTag, data[0])
	}

	dataLen := int(binary.BigEndian.Uint16(data[5:7]))
	need := 7 + dataLen + 4
	if len(data) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrDataChunkTooShort, len(data), need)
	}

	body, ok := fec.VerifyCRC32(data[:need])

	chunkData := make([]byte, dataLen)
	copy(chunkData, data[7:7+dataLen])

	return &DataChunk{
		SeqNum:   binary.BigEndian.Uint32(data[1:5]),
		Data:     chunkData,
		CRCValid: ok && len(body) == need-4,
	}, nil
}
