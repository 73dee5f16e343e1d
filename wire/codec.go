package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed portion of the frame preceding the payload bytes,
// per spec.md §6: payload_length(2) + sender_worker_id(8) + opcode(1) +
// sequence_number(8) + flags(1) + attempt(2).
const HeaderSize = 2 + 8 + 1 + 8 + 1 + 2

// ErrShortFrame is returned when a buffer does not contain a full frame.
var ErrShortFrame = fmt.Errorf("wire: short frame")

// Encode renders m as the big-endian frame described in spec.md §6.
func Encode(m Message) ([]byte, error) {
	if len(m.Payload) > 0xFFFF {
		return nil, fmt.Errorf("wire: payload length %d exceeds uint16 range", len(m.Payload))
	}

	b := make([]byte, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint16(b[0:2], uint16(len(m.Payload)))
	binary.BigEndian.PutUint64(b[2:10], m.SenderID)
	b[10] = byte(m.Opcode)
	binary.BigEndian.PutUint64(b[11:19], m.SeqNo)

	var flags uint8
	if m.Reliable {
		flags |= FlagReliable
	}
	if m.Tracked {
		flags |= FlagTracked
	}
	b[19] = flags

	binary.BigEndian.PutUint16(b[20:22], m.Attempt)
	copy(b[HeaderSize:], m.Payload)
	return b, nil
}

// Decode parses exactly one frame from the front of b.
//
// It returns the number of bytes consumed so TCP stream parsing can
// advance past the frame and leave any trailing bytes for the next frame.
// ErrShortFrame indicates b does not yet contain a complete frame.
func Decode(b []byte) (Message, int, error) {
	if len(b) < HeaderSize {
		return Message{}, 0, ErrShortFrame
	}

	payloadLen := int(binary.BigEndian.Uint16(b[0:2]))
	total := HeaderSize + payloadLen
	if len(b) < total {
		return Message{}, 0, ErrShortFrame
	}

	m := Message{
		SenderID: binary.BigEndian.Uint64(b[2:10]),
		Opcode:   Opcode(b[10]),
		SeqNo:    binary.BigEndian.Uint64(b[11:19]),
		Attempt:  binary.BigEndian.Uint16(b[20:22]),
	}
	flags := b[19]
	m.Reliable = flags&FlagReliable != 0
	m.Tracked = flags&FlagTracked != 0

	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		copy(m.Payload, b[HeaderSize:total])
	}

	return m, total, nil
}
