package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
)

// DefaultPath is the HTTP path serving L1.
const DefaultPath = "/l1"

// Registrar implements l1.Registrar serving websocket clients.
type Registrar struct {
	comm.Hub
	Listener net.Listener
	Path     string
}

// Listen creates a Registrar listening on a TCP address.
func Listen(addr string) (*Registrar, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Registrar{Listener: ln, Path: DefaultPath}, nil
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
	mux := http.NewServeMux()
	mux.Handle(r.Path, websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		glog.V(1).Infof("l1: websocket client %s connected", conn.Request().RemoteAddr)
		err := r.Serve(ctx, New(conn), conn)
		glog.V(1).Infof("l1: websocket client %s disconnected: %v", conn.Request().RemoteAddr, err)
	}))
	server := &http.Server{Handler: mux}
	glog.Infof("l1: listening on ws://%s%s", r.Listener.Addr(), r.Path)
	return fx.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(r.Listener)
	})
}

// Connector implements l1.Connector to a websocket URL.
type Connector struct {
	URL string
}

// NewConnector creates a Connector.
func NewConnector(rawurl string) *Connector {
	return &Connector{URL: rawurl}
}

// Discover implements Connector, reporting the only reachable service.
func (c *Connector) Discover(ctx context.Context) ([]l1.ControllerInfo, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, err
	}
	return []l1.ControllerInfo{{Ref: l1.ControllerRef{Type: u.Scheme, ID: u.Host}}}, nil
}

// Connect implements Connector.
func (c *Connector) Connect(ctx context.Context, ref l1.ControllerRef) (l1.ControllerConn, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, err
	}
	if u.Path == "" {
		u.Path = DefaultPath
	}
	conn, err := websocket.Dial(u.String(), "", "http://"+u.Host)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	cc := &ControllerConn{rw: New(conn)}
	cc.Init(cc.rw)
	return cc, nil
}

// ControllerConn implements l1.ControllerConn over websocket.
type ControllerConn struct {
	comm.ControllerConn
	rw *ReadWriter
}

// Close closes the connection.
func (c *ControllerConn) Close() error {
	return c.rw.Close()
}
