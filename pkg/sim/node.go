package sim

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/node"
)

// Node serves a Device over an L0 stream.
type Node struct {
	Device    *Device
	responder *comm.Responder
}

// NewNode creates a Node for dev on stream.
func NewNode(dev *Device, stream io.ReadWriter) *Node {
	return &Node{
		Device:    dev,
		responder: comm.NewResponder(comm.NewFIFO(stream), node.NewHandler(dev)),
	}
}

// CountFinished implements CountListener by emitting the event.
func (n *Node) CountFinished(count uint32) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, count)
	if err := n.responder.Notify(node.EventCountFinished, data); err != nil {
		glog.V(1).Infof("sim: count-finished event dropped: %v", err)
	}
}

// Run implements Runnable.
func (n *Node) Run(ctx context.Context) error {
	unsubscribe := n.Device.SubscribeCountFinished(n)
	defer unsubscribe()
	return n.responder.Run(ctx)
}
