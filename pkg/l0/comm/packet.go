package comm

import (
	"io"
	"time"
)

// PacketSeq is the sequence number of a packet.
// Valid numbers are 1..0xef, 0xf0 and above are reserved for sync bytes.
type PacketSeq byte

// NewPacketSeq returns a random valid sequence number.
func NewPacketSeq() PacketSeq {
	return PacketSeq(byte(time.Now().UnixNano())).Next()
}

// Next returns the following sequence number, wrapping to 1.
func (s PacketSeq) Next() PacketSeq {
	n := byte(s) + 1
	if n == 0 || n >= 0xf0 {
		n = 1
	}
	return PacketSeq(n)
}

// IsValid checks if it's a valid sequence number.
func (s PacketSeq) IsValid() bool {
	n := byte(s)
	return n > 0 && n < 0xf0
}

// MaxDataLen is the largest packet payload, the length byte must stay
// below 0x80.
const MaxDataLen = 0x7f

// Packet is a single L0 frame.
//
// The code byte keeps the event flag (0x80) and the low nibble, bits 4-6
// carry the payload length when below 7, otherwise 7 and a length byte
// follows.
type Packet struct {
	Seq  PacketSeq
	Code byte
	Data []byte
}

// IsEvent tells if the packet is an unsolicited event.
func (p *Packet) IsEvent() bool {
	return p.Code&0x80 != 0
}

// Bytes returns the encoded frame.
// Payloads longer than MaxDataLen are truncated, see Validate.
func (p *Packet) Bytes() []byte {
	data := p.Data
	if len(data) > MaxDataLen {
		data = data[:MaxDataLen]
	}
	l := byte(len(data))
	b := make([]byte, 0, len(data)+3)
	b = append(b, byte(p.Seq), p.Code&0x8f)
	if l >= 7 {
		b[1] |= 0x70
		b = append(b, l)
	} else {
		b[1] |= l << 4
	}
	return append(b, data...)
}

// Validate checks the packet can be encoded without loss.
func (p *Packet) Validate() error {
	if len(p.Data) > MaxDataLen {
		return ErrPayloadTooLarge
	}
	return nil
}

// WriteTo writes the encoded frame in a single Write.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	n, err := w.Write(p.Bytes())
	return int64(n), err
}
