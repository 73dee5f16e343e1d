package wire

// DatagramParser parses a UDP datagram as a single whole message, per
// spec.md §4.2: unlike the TCP stream, a datagram is never split or
// concatenated across the wire.
type DatagramParser struct{}

// Parse decodes b as exactly one Message. Any trailing bytes beyond the
// declared payload length are ignored, consistent with "whole datagram =
// whole message" -- a well-formed sender never appends trailing bytes.
func (DatagramParser) Parse(b []byte) (Message, error) {
	m, _, err := Decode(b)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}
