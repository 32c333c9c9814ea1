package comm

import (
	"context"

	"github.com/golang/glog"
)

// CommandHandler executes a command on the device side.
// A non-zero reason turns the reply into an error reply.
type CommandHandler interface {
	HandleCommand(code byte, data []byte) (reply []byte, reason byte)
}

// HandleCommandFunc is func type of CommandHandler.
type HandleCommandFunc func(code byte, data []byte) ([]byte, byte)

// HandleCommand implements CommandHandler.
func (f HandleCommandFunc) HandleCommand(code byte, data []byte) ([]byte, byte) {
	return f(code, data)
}

// Responder is the device side of the link.
type Responder struct {
	fifo    *FIFO
	handler CommandHandler
}

// NewResponder wraps fifo and dispatches commands to h.
func NewResponder(fifo *FIFO, h CommandHandler) *Responder {
	r := &Responder{fifo: fifo, handler: h}
	fifo.Handler = r
	return r
}

// FIFO gets wrapped FIFO.
func (r *Responder) FIFO() *FIFO {
	return r.fifo
}

// HandlePacket implements PacketHandler.
func (r *Responder) HandlePacket(ctx context.Context, pkt *Packet) {
	if pkt.IsEvent() {
		return
	}
	code := pkt.Code & 0x7e
	data, reason := r.handler.HandleCommand(code, pkt.Data)
	reply := &Packet{Code: code, Data: append([]byte{byte(pkt.Seq)}, data...)}
	if reason != ReasonNone {
		reply.Code |= 1
		reply.Data = []byte{byte(pkt.Seq), reason}
	} else if len(reply.Data) > MaxDataLen {
		reply.Code |= 1
		reply.Data = []byte{byte(pkt.Seq), ReasonInvalidPayload}
	}
	if err := r.fifo.Send(reply); err != nil {
		glog.Warningf("l0: reply to 0x%02x seq %d failed: %v", code, pkt.Seq, err)
	}
}

// Notify sends an event, code is the event number without the event flag.
func (r *Responder) Notify(code byte, data []byte) error {
	return r.fifo.Send(&Packet{Code: 0x80 | code&0x0f, Data: data})
}

// Run wraps FIFO.Run to implement Runnable.
func (r *Responder) Run(ctx context.Context) error {
	return r.fifo.Run(ctx)
}
