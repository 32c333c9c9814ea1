package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
)

// DefaultCallTimeout bounds a single command round trip.
const DefaultCallTimeout = time.Second

// Options configures a Proxy.
type Options struct {
	// CallTimeout bounds each command including waiting for sync.
	CallTimeout time.Duration
	// ReadTimeout tells the stream returns periodically from Read.
	ReadTimeout bool
	// OnCountFinished is called with the final count of each
	// count-finished event.
	OnCountFinished func(count uint32)
}

// Proxy is a device.Conn over an L0 stream.
type Proxy struct {
	client  *comm.Client
	stream  io.Closer
	timeout time.Duration
	onCount func(uint32)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	runErr    atomic.Value
	finished  uint64
}

// NewProxy starts the L0 link over stream.
func NewProxy(stream io.ReadWriteCloser, opts Options) *Proxy {
	fifo := comm.NewFIFO(stream)
	fifo.ReadTimeout = opts.ReadTimeout
	p := &Proxy{
		client:  comm.NewClient(fifo),
		stream:  stream,
		timeout: opts.CallTimeout,
		onCount: opts.OnCountFinished,
		done:    make(chan struct{}),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultCallTimeout
	}
	var ctx context.Context
	ctx, p.cancel = context.WithCancel(context.Background())
	go p.run(ctx)
	go p.events(ctx)
	return p
}

func (p *Proxy) run(ctx context.Context) {
	defer close(p.done)
	err := p.client.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("l0: link stopped: %v", err)
		p.runErr.Store(err)
	}
}

func (p *Proxy) events(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case pkt := <-p.client.EventChan():
			p.handleEvent(pkt)
		}
	}
}

func (p *Proxy) handleEvent(pkt *comm.Packet) {
	if pkt.Code != EventCountFinished {
		glog.V(2).Infof("l0: ignored event 0x%02x", pkt.Code)
		return
	}
	count, err := decodeU32(pkt.Data)
	if err != nil {
		glog.Warningf("l0: count-finished event: %v", err)
		return
	}
	atomic.AddUint64(&p.finished, 1)
	glog.V(1).Infof("l0: count finished: %d", count)
	if p.onCount != nil {
		p.onCount(count)
	}
}

// CountsFinished returns the number of count-finished events received.
func (p *Proxy) CountsFinished() uint64 {
	return atomic.LoadUint64(&p.finished)
}

// Close stops the link and closes the stream.
func (p *Proxy) Close() (err error) {
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.stream.Close()
		<-p.done
		stats := p.client.FIFO().Stats()
		glog.V(1).Infof("l0: link closed, %d bytes %d packets %d resyncs %d events dropped",
			stats.Bytes, stats.Packets, stats.Resyncs, p.client.Dropped())
	})
	return
}

func (p *Proxy) call(code byte, data []byte) ([]byte, error) {
	op := ops[code]
	select {
	case <-p.done:
		if err, ok := p.runErr.Load().(error); ok {
			return nil, &device.LinkError{Op: op, Err: fmt.Errorf("%w: %v", device.ErrClosed, err)}
		}
		return nil, &device.LinkError{Op: op, Err: device.ErrClosed}
	default:
	}
	if len(data) > MaxPayload {
		return nil, &device.LinkError{Op: op, Err: errPayloadTooLarge}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.WaitReady(ctx); err != nil {
		return nil, &device.LinkError{Op: op, Err: fmt.Errorf("%w: not synchronized", device.ErrTimeout)}
	}
	r := p.client.Call(ctx, &comm.Packet{Code: code, Data: data})
	glog.V(3).Infof("l0: %s -> code=0x%02x len=%d err=%v", op, r.Code, len(r.Data), r.Err)

	var cmdErr *comm.CommandError
	switch {
	case r.Err == nil && r.Code != code:
		return nil, &device.LinkError{Op: op, Err: errBadReply}
	case r.Err == nil:
		return r.Data, nil
	case errors.Is(r.Err, context.DeadlineExceeded):
		return nil, &device.LinkError{Op: op, Err: device.ErrTimeout}
	case errors.As(r.Err, &cmdErr) && cmdErr.Reason == comm.ReasonRejected:
		return nil, &device.LinkError{Op: op, Err: fmt.Errorf("%w: %w", device.ErrRejected, cmdErr)}
	default:
		return nil, &device.LinkError{Op: op, Err: r.Err}
	}
}

// ReadConfig implements device.Link.
func (p *Proxy) ReadConfig() ([]byte, error) {
	return p.call(CodeReadConfig, nil)
}

// WriteConfig implements device.Link.
func (p *Proxy) WriteConfig(data []byte) error {
	_, err := p.call(CodeWriteConfig, data)
	return err
}

// SaveConfig implements device.Link.
func (p *Proxy) SaveConfig() error {
	_, err := p.call(CodeSaveConfig, nil)
	return err
}

// ReadState implements device.Link.
func (p *Proxy) ReadState() ([]byte, error) {
	return p.call(CodeReadState, nil)
}

// WriteState implements device.Link.
func (p *Proxy) WriteState(data []byte) error {
	_, err := p.call(CodeWriteState, data)
	return err
}

// TriggerCount implements device.Link.
func (p *Proxy) TriggerCount(durationMs uint32) error {
	_, err := p.call(CodeCountPulses, encodeU32(durationMs))
	return err
}

// StopCount implements device.Stopper.
func (p *Proxy) StopCount() (uint32, error) {
	data, err := p.call(CodeStopCount, nil)
	if err != nil {
		return 0, err
	}
	count, err := decodeU32(data)
	if err != nil {
		return 0, &device.LinkError{Op: device.OpStopCount, Err: err}
	}
	return count, nil
}
