package comm

// SyncState is the link state reported by a Parser, a bit set.
type SyncState int

// Sync states.
const (
	// SyncStateSyncing means sequence numbers are not agreed yet.
	SyncStateSyncing SyncState = 0
	// SyncStateReady means packets can be exchanged.
	SyncStateReady SyncState = 0x01
	// SyncStateReceiving means a handshake or a packet is half way in.
	SyncStateReceiving SyncState = 0x02
)

// IsReady tells packets can be sent.
func (s SyncState) IsReady() bool {
	return s&SyncStateReady != 0
}

// IsReceiving tells more bytes are expected to complete a handshake or
// a packet.
func (s SyncState) IsReceiving() bool {
	return s&SyncStateReceiving != 0
}

// TimerAction tells the owner of a Parser what to do with its timer.
type TimerAction int

// Timer actions.
const (
	TimerNoChange TimerAction = iota
	TimerRestart
	TimerStop
)

// ParseResult is the outcome of feeding a Parser.
type ParseResult struct {
	// Sync is syncREQ or syncACK to be written followed by the local
	// sequence number, 0 when nothing is to be written.
	Sync   byte
	State  SyncState
	Packet *Packet
}

// WhatAboutTimer derives the timer action from the result.
func (r ParseResult) WhatAboutTimer() TimerAction {
	switch {
	case r.State.IsReceiving() || r.Sync == syncREQ:
		return TimerRestart
	case r.State.IsReady():
		return TimerStop
	default:
		return TimerNoChange
	}
}

// ParserStats counts what a Parser has seen.
type ParserStats struct {
	Bytes   uint64
	Packets uint64
	Resyncs uint64
}

const (
	syncREQ byte = 0xff
	syncACK byte = 0xfe
)

type parseState int

const (
	waitSync      parseState = iota // syncREQ sent, expecting REQ or ACK
	waitReqSeq                      // peer sent REQ, expecting its seq
	waitAckSeq                      // peer sent ACK, expecting its seq
	waitPacket                      // synced, expecting a packet seq
	waitPacketAck                   // ACK while synced, expecting peer seq
	waitCode                        // expecting code byte
	waitLen                         // expecting extended length byte
	waitData                        // expecting payload bytes
)

// Parser is the receiving half of the L0 link. It is fed one byte at a
// time and is not safe for concurrent use.
type Parser struct {
	state   parseState
	peerSeq PacketSeq
	packet  *Packet
	filled  int
	stats   ParserStats
}

// State reports the current SyncState.
func (p *Parser) State() SyncState {
	switch {
	case p.state == waitSync:
		return SyncStateSyncing
	case p.state == waitPacket:
		return SyncStateReady
	case p.state > waitPacket:
		return SyncStateReady | SyncStateReceiving
	default:
		return SyncStateSyncing | SyncStateReceiving
	}
}

// Stats returns the counters.
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// Reset drops any partial packet and starts a new handshake.
func (p *Parser) Reset() ParseResult {
	p.packet = nil
	return p.result(p.resync())
}

// Parse consumes one received byte.
func (p *Parser) Parse(b byte) ParseResult {
	p.stats.Bytes++
	return p.result(p.step(b))
}

// Timeout tells the Parser the timer expired. Unless idle and synced,
// the link is re-synchronized.
func (p *Parser) Timeout() ParseResult {
	if p.state == waitPacket {
		return p.result(0, nil)
	}
	return p.result(p.resync())
}

func (p *Parser) result(sync byte, pkt *Packet) ParseResult {
	return ParseResult{Sync: sync, State: p.State(), Packet: pkt}
}

func (p *Parser) step(b byte) (byte, *Packet) {
	switch p.state {
	case waitSync:
		p.onSync(b)
	case waitReqSeq:
		return p.onPeerSeq(b, syncACK)
	case waitAckSeq:
		return p.onPeerSeq(b, 0)
	case waitPacket:
		return p.onPacketSeq(b)
	case waitPacketAck:
		if b != byte(p.peerSeq) {
			return p.resync()
		}
		p.state = waitPacket
	case waitCode:
		return p.onCode(b)
	case waitLen:
		return p.onLen(b)
	case waitData:
		p.packet.Data[p.filled] = b
		p.filled++
		if p.filled >= len(p.packet.Data) {
			return p.complete()
		}
	}
	return 0, nil
}

// onSync skips everything but REQ and ACK.
func (p *Parser) onSync(b byte) {
	switch b {
	case syncREQ:
		p.state = waitReqSeq
	case syncACK:
		p.state = waitAckSeq
	}
}

func (p *Parser) onPeerSeq(b, reply byte) (byte, *Packet) {
	seq := PacketSeq(b)
	if !seq.IsValid() {
		return p.resync()
	}
	p.peerSeq, p.state = seq, waitPacket
	return reply, nil
}

func (p *Parser) onPacketSeq(b byte) (byte, *Packet) {
	switch {
	case b == syncREQ:
		p.state = waitReqSeq
	case b == syncACK:
		p.state = waitPacketAck
	case b != byte(p.peerSeq):
		return p.resync()
	default:
		p.packet = &Packet{Seq: p.peerSeq}
		p.peerSeq = p.peerSeq.Next()
		p.state = waitCode
	}
	return 0, nil
}

// onCode splits the code byte: bits 4-6 carry the payload length, 7
// meaning a length byte follows.
func (p *Parser) onCode(b byte) (byte, *Packet) {
	p.packet.Code = b & 0x8f
	n := int(b>>4) & 7
	switch n {
	case 0:
		return p.complete()
	case 7:
		p.state = waitLen
	default:
		p.expect(n)
	}
	return 0, nil
}

func (p *Parser) onLen(b byte) (byte, *Packet) {
	if b > MaxDataLen {
		return p.resync()
	}
	if b == 0 {
		return p.complete()
	}
	p.expect(int(b))
	return 0, nil
}

func (p *Parser) expect(n int) {
	p.packet.Data, p.filled = make([]byte, n), 0
	p.state = waitData
}

func (p *Parser) resync() (byte, *Packet) {
	p.state = waitSync
	p.stats.Resyncs++
	return syncREQ, nil
}

func (p *Parser) complete() (byte, *Packet) {
	pkt := p.packet
	p.packet, p.state = nil, waitPacket
	p.stats.Packets++
	return 0, pkt
}
