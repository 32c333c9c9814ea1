package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fifoPeer struct {
	fifo     *FIFO
	packetCh chan *Packet
	readyCh  chan struct{}
}

func newFIFOPeer(rw *pipeEnd, seq PacketSeq) *fifoPeer {
	p := &fifoPeer{
		fifo:     NewFIFO(rw),
		packetCh: make(chan *Packet, 16),
		readyCh:  make(chan struct{}, 16),
	}
	p.fifo.seq = seq
	p.fifo.Handler = HandlePacketFunc(func(ctx context.Context, pkt *Packet) {
		p.packetCh <- pkt
	})
	var prev SyncState
	p.fifo.Notifier = StateChangedFunc(func(ctx context.Context, state SyncState) {
		if state.IsReady() && !prev.IsReady() {
			p.readyCh <- struct{}{}
		}
		prev = state
	})
	return p
}

func (p *fifoPeer) waitReady(t *testing.T) {
	select {
	case <-p.readyCh:
	case <-time.After(time.Second):
		t.Fatal("sync timeout")
	}
}

func (p *fifoPeer) expectPacket(t *testing.T, seq PacketSeq, code byte, data []byte) {
	select {
	case pkt := <-p.packetCh:
		require.Equal(t, seq, pkt.Seq)
		require.Equal(t, code, pkt.Code)
		if len(data) == 0 {
			require.Empty(t, pkt.Data)
		} else {
			require.Equal(t, data, pkt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("packet timeout")
	}
}

func runFIFOPair(t *testing.T) (host, dev *fifoPeer, hostEnd, devEnd *pipeEnd) {
	a, b := Pair()
	hostEnd, devEnd = a.(*pipeEnd), b.(*pipeEnd)
	host, dev = newFIFOPeer(hostEnd, 0x10), newFIFOPeer(devEnd, 0x20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		hostEnd.Close()
	})
	go host.fifo.Run(ctx)
	go dev.fifo.Run(ctx)
	host.waitReady(t)
	dev.waitReady(t)
	return
}

func TestFIFOPairSync(t *testing.T) {
	host, dev, _, _ := runFIFOPair(t)
	require.True(t, host.fifo.State().IsReady())

	require.NoError(t, host.fifo.Send(&Packet{Code: 0x08}))
	require.NoError(t, host.fifo.Send(&Packet{Code: 0x0c, Data: []byte{0xe8, 0x03, 0, 0}}))
	dev.expectPacket(t, 0x10, 0x08, nil)
	dev.expectPacket(t, 0x11, 0x0c, []byte{0xe8, 0x03, 0, 0})

	payload := make([]byte, MaxDataLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, dev.fifo.Send(&Packet{Code: 0x82, Data: payload}))
	host.expectPacket(t, 0x20, 0x82, payload)
}

func TestFIFOResyncAfterGarbage(t *testing.T) {
	host, dev, hostEnd, _ := runFIFOPair(t)
	// a frame with a wrong seq forces the device to resync.
	_, err := hostEnd.Write([]byte{0x55, 0x08})
	require.NoError(t, err)
	dev.waitReady(t)
	require.NoError(t, host.fifo.Send(&Packet{Code: 0x02}))
	dev.expectPacket(t, 0x10, 0x02, nil)
}

func TestFIFOSendErrors(t *testing.T) {
	a, _ := Pair()
	fifo := NewFIFO(a)
	require.Equal(t, ErrNotReady, fifo.Send(&Packet{Code: 0x08}))
	require.Equal(t, ErrPayloadTooLarge, fifo.Send(&Packet{Code: 0x04, Data: make([]byte, MaxDataLen+1)}))
}

func TestFIFOStopsOnClosedStream(t *testing.T) {
	a, b := Pair()
	fifo := NewFIFO(a)
	errCh := make(chan error, 1)
	go func() { errCh <- fifo.Run(context.Background()) }()
	b.Close()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("FIFO didn't stop")
	}
}
