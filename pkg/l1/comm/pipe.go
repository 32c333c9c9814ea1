package comm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
)

// PacketReader receives whole encoded envelopes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter sends whole encoded envelopes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter is a packet oriented transport: a framed stream, a
// websocket or a pair of MQTT topics.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// PipeStats counts envelopes through a Pipe.
type PipeStats struct {
	Sent     uint64
	Received uint64
	// Rejected counts received envelopes of unknown or malformed type.
	Rejected uint64
}

// Pipe exchanges typed messages over a PacketReadWriter. Writes are
// serialized, reads happen in Run.
type Pipe struct {
	ReadWriter PacketReadWriter
	Handler    msgs.TypedMsgHandler

	sendLock sync.Mutex
	sent     uint64
	received uint64
	rejected uint64
}

// NewPipe creates a Pipe on rw.
func NewPipe(rw PacketReadWriter) *Pipe {
	return &Pipe{ReadWriter: rw}
}

// Stats returns the counters.
func (p *Pipe) Stats() PipeStats {
	return PipeStats{
		Sent:     atomic.LoadUint64(&p.sent),
		Received: atomic.LoadUint64(&p.received),
		Rejected: atomic.LoadUint64(&p.rejected),
	}
}

// SendCommandMsg sends a command, or a reply, tagged with seq.
func (p *Pipe) SendCommandMsg(msg fx.Message, seq uint32) error {
	typed, err := msgs.TypedFrom(msg)
	if err != nil {
		return err
	}
	if !typed.IsCommand() {
		return fmt.Errorf("l1: %T is not a command", msg)
	}
	typed.Sequence = seq
	return p.SendTyped(typed)
}

// SendEventMsg sends an event.
func (p *Pipe) SendEventMsg(msg fx.Message) error {
	typed, err := msgs.TypedFrom(msg)
	if err != nil {
		return err
	}
	if !typed.IsEvent() {
		return fmt.Errorf("l1: %T is not an event", msg)
	}
	return p.SendTyped(typed)
}

// SendTyped encodes and sends an envelope.
func (p *Pipe) SendTyped(typed *msgs.Typed) error {
	pkt, err := typed.Encode()
	if err != nil {
		return err
	}
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	if err = p.ReadWriter.WritePacket(pkt); err == nil {
		atomic.AddUint64(&p.sent, 1)
	}
	return err
}

// Run implements Runnable. It reads until the transport fails or ctx is
// done, then closes the transport.
func (p *Pipe) Run(ctx context.Context) error {
	return fx.RunWithContextCloser(ctx, p, func() error {
		for {
			pkt, err := p.ReadWriter.ReadPacket()
			if err != nil {
				return err
			}
			if err = p.receive(ctx, pkt); err != nil {
				return err
			}
		}
	})
}

func (p *Pipe) receive(ctx context.Context, pkt []byte) error {
	typed, err := msgs.DecodeTyped(pkt)
	if err != nil {
		return err
	}
	atomic.AddUint64(&p.received, 1)
	msg, err := typed.Decode()
	if err != nil {
		atomic.AddUint64(&p.rejected, 1)
		glog.V(1).Infof("l1: drop %s seq %d: %v", msgs.TypeName(typed.TypeId), typed.Sequence, err)
		if typed.IsCommand() && !typed.IsReply() {
			return p.SendCommandMsg(msgs.NewCommandErr(err), typed.Sequence)
		}
		return nil
	}
	if p.Handler == nil {
		return nil
	}
	return p.Handler.HandleTypedMsg(ctx, msg, typed)
}

// Close closes the transport when it is an io.Closer.
func (p *Pipe) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// AddToLoop implements LoopAdder. The transport joins the loop too when
// it has background work.
func (p *Pipe) AddToLoop(loop *fx.Loop) {
	switch rw := p.ReadWriter.(type) {
	case fx.LoopAdder:
		loop.Add(rw)
	case fx.Runnable:
		loop.AddRunnable(rw)
	}
	loop.AddRunnable(p)
}
