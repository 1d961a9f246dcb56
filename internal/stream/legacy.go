package stream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeongseonghan/audio-modem/internal/fec"
	"github.com/jeongseonghan/audio-modem/internal/protocol"
)

// ErrLegacyTooShort is returned when a legacy packet payload is too
// short to contain its fixed fields.
var ErrLegacyTooShort = errors.New("stream: legacy packet too short")

// LegacyPacket is the small-file wire shape used when a file's size is
// at or below ChunkThreshold (spec §4.J): no tag byte, no sequence
// number, just a name-prefixed blob with its own CRC-32. Its first
// byte is always a name length below TagMetadata so a receiver can
// branch on the tag byte before trying this parser.
type LegacyPacket struct {
	Name     string
	Data     []byte
	CRCValid bool
}

// EncodeLegacyPacket builds [nameLen(1)][name][dataLen(4 BE)][data][CRC-32(4 BE)].
func EncodeLegacyPacket(name string, data []byte) ([]byte, error) {
	nameBytes := []byte(name)
	if len(nameBytes) > protocol.MaxChunkNameLen {
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrNameTooLong, len(nameBytes))
	}

	body := make([]byte, 1+len(nameBytes)+4+len(data))
	body[0] = byte(len(nameBytes))
	copy(body[1:], nameBytes)
	off := 1 + len(nameBytes)
	binary.BigEndian.PutUint32(body[off:off+4], uint32(len(data)))
	copy(body[off+4:], data)

	return fec.AppendCRC32(body), nil
}

// DecodeLegacyPacket parses a legacy packet payload. Like the chunk
// codecs, a CRC failure is reported rather than returned as an error.
func DecodeLegacyPacket(data []byte) (*LegacyPacket, error) {
	if len(data) < 1+4+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrLegacyTooShort, len(data))
	}

	nameLen := int(data[0])
	off := 1 + nameLen
	if len(data) < off+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrLegacyTooShort, len(data))
	}
	dataLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	need := off + 4 + dataLen + 4
	if len(data) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrLegacyTooShort, len(data), need)
	}

	body, ok := fec.VerifyCRC32(data[:need])

	out := make([]byte, dataLen)
	copy(out, data[off+4:off+4+dataLen])

	return &LegacyPacket{
		Name:     string(data[1 : 1+nameLen]),
		Data:     out,
		CRCValid: ok && len(body) == need-4,
	}, nil
}
