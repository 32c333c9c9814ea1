package stream

import (
	"context"
	"net"
	"time"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
)

// RefType is the controller type reported for direct connections.
const RefType = "tcp"

// DefaultDialTimeout bounds establishing the TCP connection.
const DefaultDialTimeout = 3 * time.Second

// Connector implements l1.Connector with a direct TCP connection.
type Connector struct {
	Addr        string
	DialTimeout time.Duration
}

// NewConnector creates a Connector to addr.
func NewConnector(addr string) *Connector {
	return &Connector{Addr: addr, DialTimeout: DefaultDialTimeout}
}

// Discover implements Connector, reporting the only reachable service.
func (c *Connector) Discover(ctx context.Context) ([]l1.ControllerInfo, error) {
	return []l1.ControllerInfo{{Ref: l1.ControllerRef{Type: RefType, ID: c.Addr}}}, nil
}

// Connect implements Connector, ref is informational only.
func (c *Connector) Connect(ctx context.Context, ref l1.ControllerRef) (l1.ControllerConn, error) {
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	return NewControllerConn(conn), nil
}

// ControllerConn implements l1.ControllerConn over a stream.
// Once added to a loop, the stream is closed when the loop stops.
type ControllerConn struct {
	comm.ControllerConn
	rw *ReadWriter
}

// NewControllerConn creates a ControllerConn on conn.
func NewControllerConn(conn net.Conn) *ControllerConn {
	c := &ControllerConn{rw: New(conn)}
	c.Init(c.rw)
	return c
}

// Close closes the stream.
func (c *ControllerConn) Close() error {
	return c.rw.Close()
}
