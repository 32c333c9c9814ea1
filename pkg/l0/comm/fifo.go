package comm

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// PacketHandler is called when a packet is received.
type PacketHandler interface {
	HandlePacket(context.Context, *Packet)
}

// HandlePacketFunc is func type of PacketHandler.
type HandlePacketFunc func(context.Context, *Packet)

// HandlePacket implements PacketHandler.
func (f HandlePacketFunc) HandlePacket(ctx context.Context, pkt *Packet) {
	f(ctx, pkt)
}

// StateNotifier is called when the sync state changes.
type StateNotifier interface {
	StateChanged(context.Context, SyncState)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(context.Context, SyncState)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state SyncState) {
	f(ctx, state)
}

// DefaultSyncTimeout is the default FIFO.Timeout.
const DefaultSyncTimeout = 100 * time.Millisecond

// FIFO sends and receives packets over a byte stream.
type FIFO struct {
	ReadWriter io.ReadWriter
	Handler    PacketHandler
	Notifier   StateNotifier
	// Timeout bounds a sync handshake and a partially received packet.
	Timeout time.Duration
	// ReadTimeout is set when Read of ReadWriter returns periodically
	// with no data (n == 0 or a timeout error), e.g. a serial port with
	// a read timeout. Otherwise a separate goroutine does blocking reads.
	ReadTimeout bool

	seq   PacketSeq
	state SyncState
	lock  sync.RWMutex

	syncTimer <-chan time.Time
	parser    Parser
	stats     ParserStats
}

// NewFIFO creates a FIFO.
func NewFIFO(rw io.ReadWriter) *FIFO {
	return &FIFO{
		ReadWriter: rw,
		Timeout:    DefaultSyncTimeout,
		seq:        NewPacketSeq(),
	}
}

// State gets the state.
func (f *FIFO) State() SyncState {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.state
}

// Stats returns the receive counters.
func (f *FIFO) Stats() ParserStats {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.stats
}

// Send assigns the next sequence number to pkt and writes it.
func (f *FIFO) Send(pkt *Packet) error {
	if err := pkt.Validate(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.state.IsReady() {
		return ErrNotReady
	}
	pkt.Seq = f.seq
	if _, err := pkt.WriteTo(f.ReadWriter); err != nil {
		return err
	}
	f.seq = f.seq.Next()
	return nil
}

// Run synchronizes with the peer and processes received bytes until
// ctx is done or the stream fails.
func (f *FIFO) Run(ctx context.Context) error {
	if err := f.apply(ctx, f.parser.Reset()); err != nil {
		return err
	}
	next := f.pollNext
	if !f.ReadTimeout {
		var cancel context.CancelFunc
		next, cancel = f.blockingNext(ctx)
		defer cancel()
	}
	for {
		pr, err := next(ctx)
		if err == nil {
			err = f.apply(ctx, pr)
		}
		if err != nil {
			return err
		}
	}
}

// nextFunc waits for the next byte or timer expiry and feeds the parser.
type nextFunc func(context.Context) (ParseResult, error)

// pollNext reads once, a read returning nothing counts as a timeout.
func (f *FIFO) pollNext(ctx context.Context) (ParseResult, error) {
	select {
	case <-ctx.Done():
		return ParseResult{}, ctx.Err()
	case <-f.syncTimer:
		return f.parser.Timeout(), nil
	default:
	}
	var buf [1]byte
	n, err := f.ReadWriter.Read(buf[:])
	switch {
	case err == nil && n > 0:
		return f.parser.Parse(buf[0]), nil
	case err == nil || os.IsTimeout(err):
		return f.parser.Timeout(), nil
	default:
		return ParseResult{}, err
	}
}

// blockingNext moves reads to a goroutine so the timer can fire while
// Read blocks.
func (f *FIFO) blockingNext(ctx context.Context) (nextFunc, context.CancelFunc) {
	byteCh, errCh := make(chan byte), make(chan error, 1)
	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		var buf [1]byte
		for {
			if _, err := f.ReadWriter.Read(buf[:]); err != nil {
				errCh <- err
				return
			}
			select {
			case byteCh <- buf[0]:
			case <-readCtx.Done():
				return
			}
		}
	}()
	return func(ctx context.Context) (ParseResult, error) {
		select {
		case b := <-byteCh:
			return f.parser.Parse(b), nil
		case err := <-errCh:
			return ParseResult{}, err
		case <-ctx.Done():
			return ParseResult{}, ctx.Err()
		case <-f.syncTimer:
			return f.parser.Timeout(), nil
		}
	}, cancel
}

// apply writes the sync reply if any, then updates the state and timer
// and delivers a completed packet.
func (f *FIFO) apply(ctx context.Context, pr ParseResult) error {
	var notifier StateNotifier
	f.lock.Lock()
	f.stats = f.parser.Stats()
	if f.state != pr.State {
		f.state, notifier = pr.State, f.Notifier
	}
	var err error
	if pr.Sync != 0 {
		_, err = f.ReadWriter.Write([]byte{pr.Sync, byte(f.seq)})
	}
	f.lock.Unlock()
	if err != nil {
		return err
	}

	f.updateTimer(pr)
	if notifier != nil {
		notifier.StateChanged(ctx, pr.State)
	}
	if pr.Packet != nil && f.Handler != nil {
		f.Handler.HandlePacket(ctx, pr.Packet)
	}
	return nil
}

// updateTimer arms the timer. With ReadTimeout, Read already returns
// periodically and the timer only paces sync requests.
func (f *FIFO) updateTimer(pr ParseResult) {
	action := pr.WhatAboutTimer()
	if f.ReadTimeout {
		action = TimerStop
		if pr.Sync == syncREQ {
			action = TimerRestart
		}
	}
	switch action {
	case TimerRestart:
		f.syncTimer = time.After(f.Timeout)
	case TimerStop:
		f.syncTimer = nil
	}
}
