package stream

import (
	"context"
	"net"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
)

// Registrar implements l1.Registrar by accepting clients on a listener.
type Registrar struct {
	comm.Hub
	Listener net.Listener
}

// Listen creates a Registrar listening on a TCP address.
func Listen(addr string) (*Registrar, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Registrar{Listener: ln}, nil
}

// Addr returns the listening address.
func (r *Registrar) Addr() net.Addr {
	return r.Listener.Addr()
}

// Close stops accepting clients, used when the registrar never runs.
func (r *Registrar) Close() error {
	return r.Listener.Close()
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(r)
}

// Run implements Runnable.
func (r *Registrar) Run(ctx context.Context) error {
	glog.Infof("l1: listening on tcp %s", r.Listener.Addr())
	return fx.RunWithContextCloser(ctx, r.Listener, func() error {
		for {
			conn, err := r.Listener.Accept()
			if err != nil {
				return err
			}
			glog.V(1).Infof("l1: client %s connected", conn.RemoteAddr())
			go func() {
				err := r.Serve(ctx, New(conn), conn)
				glog.V(1).Infof("l1: client %s disconnected: %v", conn.RemoteAddr(), err)
			}()
		}
	})
}
