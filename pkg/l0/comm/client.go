package comm

import (
	"context"
	"sync"
	"sync/atomic"
)

// Result is the outcome of a command: the reply code without the error
// bit and the reply payload after the echoed seq, or an error.
type Result struct {
	Err  error
	Code byte
	Data []byte
}

// EventQueueSize is the number of events buffered by a Client.
const EventQueueSize = 16

// Client is the host end of the link. Replies echo the seq of their
// request as first payload byte, the device answers in order so a reply
// also resolves every older command as ErrNoReply.
type Client struct {
	fifo    *FIFO
	eventCh chan *Packet
	dropped uint64

	cmdsLock sync.Mutex
	pending  []*Command

	readyLock sync.Mutex
	ready     bool
	readyCh   chan struct{}
}

// Command is a request waiting for its reply.
type Command struct {
	requestSeq PacketSeq
	resultCh   chan Result
}

// RequestSeq is the seq the request was sent with.
func (c *Command) RequestSeq() PacketSeq {
	return c.requestSeq
}

// ResultChan delivers exactly one Result.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// NewClient takes over the Handler and Notifier of fifo.
func NewClient(fifo *FIFO) *Client {
	c := &Client{
		fifo:    fifo,
		eventCh: make(chan *Packet, EventQueueSize),
		readyCh: make(chan struct{}),
	}
	fifo.Handler = c
	fifo.Notifier = StateChangedFunc(c.stateChanged)
	return c
}

// FIFO gets wrapped FIFO.
func (c *Client) FIFO() *FIFO {
	return c.fifo
}

// EventChan retrieves events from the device.
// Events are dropped when the chan is full, see Dropped.
func (c *Client) EventChan() <-chan *Packet {
	return c.eventCh
}

// Dropped returns the number of events dropped.
func (c *Client) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

func (c *Client) stateChanged(ctx context.Context, state SyncState) {
	ready := state.IsReady()
	c.readyLock.Lock()
	switch {
	case ready && !c.ready:
		close(c.readyCh)
	case !ready && c.ready:
		c.readyCh = make(chan struct{})
	}
	wasReady := c.ready
	c.ready = ready
	c.readyLock.Unlock()
	if wasReady && !ready {
		// seqs restart after a resync, nothing pending can be answered.
		c.failPending(ErrLinkLost)
	}
}

// WaitReady blocks until the FIFO is synchronized or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	c.readyLock.Lock()
	ch := c.readyCh
	c.readyLock.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWith sends a command, its Result goes to ch which must have room.
func (c *Client) DoWith(pkt *Packet, ch chan Result) *Command {
	cmd := &Command{resultCh: ch}
	c.cmdsLock.Lock()
	defer c.cmdsLock.Unlock()
	if err := c.fifo.Send(pkt); err != nil {
		cmd.resultCh <- Result{Err: err}
		return cmd
	}
	cmd.requestSeq = pkt.Seq
	c.pending = append(c.pending, cmd)
	return cmd
}

// Do sends a command.
func (c *Client) Do(pkt *Packet) *Command {
	return c.DoWith(pkt, make(chan Result, 1))
}

// Call sends a command and waits for its Result or ctx.
func (c *Client) Call(ctx context.Context, pkt *Packet) Result {
	cmd := c.Do(pkt)
	select {
	case r := <-cmd.ResultChan():
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// HandlePacket implements PacketHandler, queueing events and resolving
// commands from replies.
func (c *Client) HandlePacket(ctx context.Context, pkt *Packet) {
	if pkt.IsEvent() {
		select {
		case c.eventCh <- pkt:
		default:
			atomic.AddUint64(&c.dropped, 1)
		}
		return
	}
	if len(pkt.Data) == 0 || !PacketSeq(pkt.Data[0]).IsValid() {
		return
	}
	skipped, cmd := c.take(PacketSeq(pkt.Data[0]))
	if cmd == nil {
		return
	}
	for _, old := range skipped {
		old.resultCh <- Result{Err: ErrNoReply}
	}
	cmd.resultCh <- replyResult(pkt)
}

// take removes the command sent with seq and those sent before it.
func (c *Client) take(seq PacketSeq) (skipped []*Command, cmd *Command) {
	c.cmdsLock.Lock()
	defer c.cmdsLock.Unlock()
	for n, pending := range c.pending {
		if pending.requestSeq == seq {
			skipped, cmd = c.pending[:n:n], pending
			c.pending = c.pending[n+1:]
			return
		}
	}
	return nil, nil
}

func (c *Client) failPending(err error) {
	c.cmdsLock.Lock()
	pending := c.pending
	c.pending = nil
	c.cmdsLock.Unlock()
	for _, cmd := range pending {
		cmd.resultCh <- Result{Err: err}
	}
}

// replyResult decodes a reply: bit 0 of the code flags an error whose
// reason is the byte after the seq.
func replyResult(pkt *Packet) Result {
	code := pkt.Code & 0x7e
	if pkt.Code&1 == 0 {
		return Result{Code: code, Data: pkt.Data[1:]}
	}
	cmdErr := &CommandError{Code: code}
	if len(pkt.Data) > 1 {
		cmdErr.Reason = pkt.Data[1]
	}
	return Result{Err: cmdErr}
}

// Run wraps FIFO.Run to implement Runnable.
func (c *Client) Run(ctx context.Context) error {
	return c.fifo.Run(ctx)
}
