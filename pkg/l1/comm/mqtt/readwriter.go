package mqtt

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
)

// PacketQueueSize is the number of received packets buffered.
const PacketQueueSize = 16

// Topic suffixes under TYPE/ID.
const (
	CommandTopic = "cmd"
	MessageTopic = "msg"
	MetaSuffix   = "meta"
)

// ReadWriter is a comm.PacketReadWriter over two topics, one per
// direction. Packets arriving faster than they are read are dropped.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh chan []byte
	doneCh   chan struct{}
	dropped  uint64
}

// NewPacketReadWriter creates a ReadWriter, topics are set with
// WithTopics, ForConnector or ForController.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, PacketQueueSize),
		doneCh:   make(chan struct{}),
	}
}

// WithTopics sets the topics directly.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForConnector is the client side: commands out on TYPE/ID/cmd, replies
// and events in on TYPE/ID/msg.
func (p *ReadWriter) ForConnector(ref l1.ControllerRef) *ReadWriter {
	return p.WithTopics(refTopic(ref, MessageTopic), refTopic(ref, CommandTopic))
}

// ForController is the service side, the reverse of ForConnector.
func (p *ReadWriter) ForController(ref l1.ControllerRef) *ReadWriter {
	return p.WithTopics(refTopic(ref, CommandTopic), refTopic(ref, MessageTopic))
}

func refTopic(ref l1.ControllerRef, suffix string) string {
	return ref.Name() + "/" + suffix
}

// Dropped returns the number of packets dropped on a full queue.
func (p *ReadWriter) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}

// ReadPacket implements PacketReader, io.EOF once Run returned.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.doneCh:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter, waiting for the publish to
// complete at the queue QoS.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	token := p.Queue.Pub(p.PubTopic, pkt)
	token.Wait()
	return token.Error()
}

// Run implements Runnable, subscribed while ctx is alive.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Queue.Sub(p.SubTopic, p.receive)
	defer sub.Close()
	defer close(p.doneCh)
	<-ctx.Done()
	return ctx.Err()
}

func (p *ReadWriter) receive(topic string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.doneCh:
	default:
		if n := atomic.AddUint64(&p.dropped, 1); n == 1 || n%100 == 0 {
			glog.Warningf("mqtt: %s: %d packets dropped, queue full", topic, n)
		}
	}
}
