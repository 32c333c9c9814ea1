// Package stream carries L1 packets over a byte stream such as TCP.
package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPacketSize bounds a received packet.
const MaxPacketSize = 1 << 20

// ReadWriter implements PacketReadWriter.
// Each packet is prefixed by 4-byte (little-endian) indicate the length.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var size uint32
	if err := binary.Read(p.ReadWriter, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds %d", size, MaxPacketSize)
	}
	pkt := make([]byte, size)
	_, err := io.ReadFull(p.ReadWriter, pkt)
	return pkt, err
}

// WritePacket implements PacketWriter, writing the header and the
// packet at once.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	buf := make([]byte, 4+len(pkt))
	binary.LittleEndian.PutUint32(buf, uint32(len(pkt)))
	copy(buf[4:], pkt)
	_, err := p.ReadWriter.Write(buf)
	return err
}

// Close implements io.Closer if the underlying stream does.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Run implements Runnable, it closes the stream when ctx is done to
// unblock ReadPacket.
func (p *ReadWriter) Run(ctx context.Context) error {
	<-ctx.Done()
	p.Close()
	return ctx.Err()
}
