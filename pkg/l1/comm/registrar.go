package comm

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
)

// Registrar implements Registrar with Pipe and integrated with Loop.
// Received commands are posted to the loop as l1.CommandMsg.
type Registrar struct {
	pipe Pipe
}

// NewRegistrar creates a Registrar on rw.
func NewRegistrar(rw PacketReadWriter) *Registrar {
	r := &Registrar{}
	r.Init(rw)
	return r
}

// Init initializes the Registrar with defaults.
func (r *Registrar) Init(rw PacketReadWriter) {
	r.pipe.ReadWriter = rw
	r.pipe.Handler = msgs.HandleTypedMsgFunc(func(ctx context.Context, msg fx.Message, typed *msgs.Typed) error {
		if !typed.IsCommand() {
			glog.V(2).Infof("l1: ignored event %s from client", msgs.TypeName(typed.TypeId))
			return nil
		}
		loopCtl := fx.LoopCtlFrom(ctx)
		loopCtl.PostMessage(&l1.CommandMsg{Command: &command{seq: typed.Sequence, msg: msg, pipe: &r.pipe}})
		loopCtl.TriggerNext()
		return nil
	})
}

// SendEvent implements Registrar.
func (r *Registrar) SendEvent(ctx context.Context, msg fx.Message) error {
	return r.pipe.SendEventMsg(msg)
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.Add(&r.pipe)
}

type command struct {
	seq  uint32
	msg  fx.Message
	pipe *Pipe
}

func (c *command) Msg() fx.Message {
	return c.msg
}

func (c *command) Done(msg fx.Message) error {
	return c.pipe.SendCommandMsg(msg, c.seq)
}

// Hub is a Registrar serving every accepted client connection.
type Hub struct {
	lock sync.Mutex
	regs map[*Registrar]struct{}
}

// Serve registers a client connection and processes its commands until
// the connection fails or ctx is done. ctx must come from a Loop.
func (h *Hub) Serve(ctx context.Context, rw PacketReadWriter, closer io.Closer) error {
	reg := NewRegistrar(rw)
	h.lock.Lock()
	if h.regs == nil {
		h.regs = make(map[*Registrar]struct{})
	}
	h.regs[reg] = struct{}{}
	h.lock.Unlock()
	defer func() {
		h.lock.Lock()
		delete(h.regs, reg)
		h.lock.Unlock()
	}()
	return fx.RunWithContextCloser(ctx, closer, func() error {
		return reg.pipe.Run(ctx)
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.regs)
}

// SendEvent implements Registrar, broadcasting to all clients.
func (h *Hub) SendEvent(ctx context.Context, msg fx.Message) error {
	h.lock.Lock()
	regs := make([]*Registrar, 0, len(h.regs))
	for reg := range h.regs {
		regs = append(regs, reg)
	}
	h.lock.Unlock()
	var errs fx.AggregatedError
	for _, reg := range regs {
		errs.Add(reg.SendEvent(ctx, msg))
	}
	return errs.Aggregate()
}

// RegistrarMux registers the counter service with multiple Registrars.
type RegistrarMux struct {
	Registrars []l1.Registrar
}

// SendEvent implements Registrar.
func (r *RegistrarMux) SendEvent(ctx context.Context, msg fx.Message) error {
	var errs fx.AggregatedError
	for _, reg := range r.Registrars {
		errs.Add(reg.SendEvent(ctx, msg))
	}
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (r *RegistrarMux) AddToLoop(l *fx.Loop) {
	for _, reg := range r.Registrars {
		if adder, ok := reg.(fx.LoopAdder); ok {
			l.Add(adder)
		}
	}
}

// Add adds more registrars.
func (r *RegistrarMux) Add(regs ...l1.Registrar) {
	r.Registrars = append(r.Registrars, regs...)
}

// UnsupportedCommands replies left-over commands as unsupported.
type UnsupportedCommands struct {
}

// Control implements Controller.
func (c *UnsupportedCommands) Control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		if cmdMsg, ok := mctx.CurrentMessage().(*l1.CommandMsg); ok {
			mctx.MessageTaken()
			glog.V(1).Infof("l1: unsupported command %T", cmdMsg.Command.Msg())
			cmdMsg.Command.Done(msgs.NewCommandErr(msgs.ErrUnsupportedCommand))
		}
	}))
	return nil
}

// AddToLoop implements LoopAdder.
func (c *UnsupportedCommands) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvIdle, c)
}
