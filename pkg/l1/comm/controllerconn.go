package comm

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
)

// DefaultCommandExpiration is how long DoCommand waits for a reply.
const DefaultCommandExpiration = 1 * time.Second

// ControllerConn is the client end of an L1 link. Replies are matched to
// commands by sequence number, commands without a reply in time fail
// with context.DeadlineExceeded.
type ControllerConn struct {
	Expiration time.Duration
	// OnEvent receives events. Without it events are posted to the loop.
	OnEvent func(fx.Message)

	pipe    Pipe
	lock    sync.Mutex
	lastSeq uint32
	pending map[uint32]*commandFuture
}

// Init sets up the connection on rw.
func (c *ControllerConn) Init(rw PacketReadWriter) {
	c.Expiration = DefaultCommandExpiration
	c.pipe.ReadWriter = rw
	c.pipe.Handler = msgs.HandleTypedMsgFunc(c.handleTypedMsg)
	c.pending = make(map[uint32]*commandFuture)
}

// DoCommand implements l1.ControllerConn.
func (c *ControllerConn) DoCommand(msg fx.Message) l1.CommandFuture {
	return c.DoCommandWithin(msg, c.Expiration)
}

// DoCommandWithin is DoCommand with its own expiration, used for
// commands outliving the default like a long acquisition.
func (c *ControllerConn) DoCommandWithin(msg fx.Message, expiration time.Duration) l1.CommandFuture {
	c.lock.Lock()
	defer c.lock.Unlock()
	f := &commandFuture{
		seq:      c.nextSeq(),
		deadline: time.Now().Add(expiration),
		result:   make(chan l1.Result, 1),
	}
	if err := c.pipe.SendCommandMsg(msg, f.seq); err != nil {
		f.resolve(l1.Result{Err: err})
		return f
	}
	c.pending[f.seq] = f
	return f
}

// nextSeq skips 0 which marks events.
func (c *ControllerConn) nextSeq() uint32 {
	c.lastSeq++
	if c.lastSeq == 0 {
		c.lastSeq++
	}
	return c.lastSeq
}

// Pending returns the number of commands waiting for replies.
func (c *ControllerConn) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

// AddToLoop implements LoopAdder.
func (c *ControllerConn) AddToLoop(l *fx.Loop) {
	l.Add(&c.pipe)
	l.AddController(fx.PrLvIdle, fx.ControlFunc(c.expire))
}

func (c *ControllerConn) handleTypedMsg(ctx context.Context, msg fx.Message, typed *msgs.Typed) error {
	if typed.IsEvent() {
		c.dispatchEvent(ctx, msg)
		return nil
	}
	c.lock.Lock()
	f := c.pending[typed.Sequence]
	delete(c.pending, typed.Sequence)
	c.lock.Unlock()
	if f == nil {
		glog.V(1).Infof("l1: %s seq %d matches no pending command", msgs.TypeName(typed.TypeId), typed.Sequence)
		return nil
	}
	result := l1.Result{Msg: msg}
	if cmdErr, ok := msg.(*msgs.CommandErr); ok {
		result.Err = cmdErr
	}
	f.resolve(result)
	return nil
}

func (c *ControllerConn) dispatchEvent(ctx context.Context, msg fx.Message) {
	if fn := c.OnEvent; fn != nil {
		fn(msg)
		return
	}
	loopCtl := fx.LoopCtlFrom(ctx)
	loopCtl.PostMessage(msg)
	loopCtl.TriggerNext()
}

func (c *ControllerConn) expire(cc fx.ControlContext) error {
	now := cc.Time()
	var expired []*commandFuture
	c.lock.Lock()
	for seq, f := range c.pending {
		if !f.deadline.After(now) {
			expired = append(expired, f)
			delete(c.pending, seq)
		}
	}
	c.lock.Unlock()
	for _, f := range expired {
		glog.V(1).Infof("l1: command seq %d expired", f.seq)
		f.resolve(l1.Result{Err: context.DeadlineExceeded})
	}
	return nil
}

type commandFuture struct {
	seq      uint32
	deadline time.Time
	result   chan l1.Result
}

func (f *commandFuture) resolve(res l1.Result) {
	f.result <- res
	close(f.result)
}

func (f *commandFuture) ResultChan() <-chan l1.Result {
	return f.result
}
