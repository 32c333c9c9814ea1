package sim

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
)

// DefaultWebsocketPath is the HTTP path serving L0 over websocket.
const DefaultWebsocketPath = "/l0"

// Server serves one Device to every client of a TCP listener, and
// optionally a websocket listener. All clients share the device.
type Server struct {
	Device     *Device
	Listener   net.Listener
	WSListener net.Listener
	WSPath     string
}

// Listen creates a Server on a TCP address, wsAddr may be empty.
func Listen(dev *Device, addr, wsAddr string) (*Server, error) {
	s := &Server{Device: dev, WSPath: DefaultWebsocketPath}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.Listener = ln
	if wsAddr != "" {
		if s.WSListener, err = net.Listen("tcp", wsAddr); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return s, nil
}

// AddToLoop implements LoopAdder, the device ticks with the loop.
func (s *Server) AddToLoop(l *fx.Loop) {
	l.Add(s.Device)
	l.AddRunnable(s)
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	runner := fx.NewRunnerWith(ctx).Go(fx.NamedRun("sim-tcp", fx.RunnableFunc(s.serveTCP)))
	if s.WSListener != nil {
		runner.Go(fx.NamedRun("sim-ws", fx.RunnableFunc(s.serveWebsocket)))
	}
	return runner.Wait()
}

func (s *Server) serveTCP(ctx context.Context) error {
	glog.Infof("sim: listening on tcp://%s", s.Listener.Addr())
	return fx.RunWithContextCloser(ctx, s.Listener, func() error {
		for {
			conn, err := s.Listener.Accept()
			if err != nil {
				return err
			}
			go func() {
				glog.V(1).Infof("sim: client %s connected", conn.RemoteAddr())
				err := fx.RunWithContextCloser(ctx, conn, func() error {
					return NewNode(s.Device, conn).Run(ctx)
				})
				glog.V(1).Infof("sim: client %s disconnected: %v", conn.RemoteAddr(), err)
			}()
		}
	})
}

func (s *Server) serveWebsocket(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.WSPath, websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		err := fx.RunWithContextCloser(ctx, conn, func() error {
			return NewNode(s.Device, conn).Run(ctx)
		})
		glog.V(1).Infof("sim: websocket client %s disconnected: %v", conn.Request().RemoteAddr, err)
	}))
	server := &http.Server{Handler: mux}
	glog.Infof("sim: listening on ws://%s%s", s.WSListener.Addr(), s.WSPath)
	return fx.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(s.WSListener)
	})
}
