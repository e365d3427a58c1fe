package protocol

import "encoding/binary"

const frameHeaderSize = 2

// Frame wraps the encoded packet in the 2-byte big-endian length prefix used on TCP.
func Frame(p Packet) ([]byte, error) {
	body, err := Encode(p)
	if err != nil {
		return nil, err
	}
	out := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[frameHeaderSize:], body)
	return out, nil
}

// StreamBuffer reassembles framed packets from arbitrary TCP chunks.
// A framed unit whose inner packet fails to decode is consumed and skipped.
type StreamBuffer struct {
	buf     []byte
	skipped int
}

func (s *StreamBuffer) Write(chunk []byte) {
	s.buf = append(s.buf, chunk...)
}

// Next returns the next decodable packet, or false when no complete frame is buffered.
func (s *StreamBuffer) Next() (Packet, bool) {
	for {
		if len(s.buf) < frameHeaderSize {
			return Packet{}, false
		}
		n := int(binary.BigEndian.Uint16(s.buf))
		if len(s.buf) < frameHeaderSize+n {
			return Packet{}, false
		}
		unit := s.buf[frameHeaderSize : frameHeaderSize+n]
		p, err := Decode(unit)
		s.consume(frameHeaderSize + n)
		if err != nil {
			s.skipped++
			continue
		}
		return p, true
	}
}

// Drain returns every complete packet currently buffered.
func (s *StreamBuffer) Drain() []Packet {
	var out []Packet
	for {
		p, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

// Buffered is the number of bytes waiting for a complete frame.
func (s *StreamBuffer) Buffered() int { return len(s.buf) }

// Skipped counts frames dropped because their packet did not decode.
func (s *StreamBuffer) Skipped() int { return s.skipped }

func (s *StreamBuffer) Reset() {
	s.buf = s.buf[:0]
	s.skipped = 0
}

func (s *StreamBuffer) consume(n int) {
	rest := len(s.buf) - n
	if rest == 0 {
		s.buf = s.buf[:0]
		return
	}
	copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}
